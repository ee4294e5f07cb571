package httpproto

import (
	"strconv"
	"strings"

	"github.com/akitasoftware/pcaptrack/reassembly"
)

// Phase is HttpMessage's position in the per-direction state machine
// (spec.md §4.5).
type Phase int

const (
	PhaseRequestResponse Phase = iota
	PhaseHeaders
	PhaseBody
	PhaseBodyChunkedLength
	PhaseBodyChunkData
	PhaseBodyChunkSeparator
)

// Outcome is the result of one HttpMessage.Process call.
type Outcome int

const (
	NeedMoreData Outcome = iota
	Complete
	Errored
)

// Kind distinguishes a request-line parse from a status-line parse; it's
// fixed at construction and never changes (spec.md §4.7 assigns it once a
// flow's direction is discovered).
type Kind int

const (
	KindRequest Kind = iota
	KindStatus
)

// HttpMessage is a per-direction streaming HTTP/1.x message parser
// (spec.md §4.5). Construct one with NewRequest or NewStatus and feed it a
// *reassembly.StreamReassembler across as many Process calls as it takes to
// reach Complete or Errored.
type HttpMessage struct {
	Kind  Kind
	Phase Phase

	// Request-line fields (Kind == KindRequest).
	Method  string
	URL     string
	Version string

	// Status-line fields (Kind == KindStatus).
	StatusVersion string
	StatusCode    int
	Reason        string

	Headers map[string]string

	// ContentLength is -1 until a Content-Length header is read.
	ContentLength int

	Body           []byte
	CompressedBody []byte

	chunkLength int
}

func NewRequest() *HttpMessage { return &HttpMessage{Kind: KindRequest, ContentLength: -1} }
func NewStatus() *HttpMessage  { return &HttpMessage{Kind: KindStatus, ContentLength: -1} }

func (m *HttpMessage) IsRequest() bool { return m.Kind == KindRequest }
func (m *HttpMessage) IsStatus() bool  { return m.Kind == KindStatus }

// knownMethods bounds the "unknown method strings yield Error" rule in
// spec.md §4.5.
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true, "HEAD": true,
	"OPTIONS": true, "PATCH": true, "TRACE": true, "CONNECT": true,
}

// Process runs the state machine forward as far as the available bytes in r
// allow, returning NeedMoreData, Complete, or Errored (spec.md §4.5).
func (m *HttpMessage) Process(r *reassembly.StreamReassembler) (Outcome, error) {
	for {
		switch m.Phase {
		case PhaseRequestResponse:
			advanced, err := m.processRequestResponse(r)
			if err != nil {
				return Errored, err
			}
			if !advanced {
				return NeedMoreData, nil
			}
			m.Phase = PhaseHeaders

		case PhaseHeaders:
			done, err := m.processHeaders(r)
			if err != nil {
				return Errored, err
			}
			if !done {
				return NeedMoreData, nil
			}
			switch {
			case m.ContentLength >= 0:
				m.Phase = PhaseBody
			case strings.EqualFold(m.Headers["Transfer-Encoding"], "chunked"):
				m.Phase = PhaseBodyChunkedLength
			default:
				return Complete, nil
			}

		case PhaseBody:
			outcome, err := m.processBody(r)
			if err != nil {
				return Errored, err
			}
			return outcome, nil

		case PhaseBodyChunkedLength:
			advanced, err := m.processBodyChunkedLength(r)
			if err != nil {
				return Errored, err
			}
			if !advanced {
				return NeedMoreData, nil
			}
			m.Phase = PhaseBodyChunkData

		case PhaseBodyChunkData:
			advanced, err := m.processBodyChunkData(r)
			if err != nil {
				return Errored, err
			}
			if !advanced {
				return NeedMoreData, nil
			}
			m.Phase = PhaseBodyChunkSeparator

		case PhaseBodyChunkSeparator:
			result, err := m.processBodyChunkSeparator(r)
			if err != nil {
				return Errored, err
			}
			switch result {
			case chunkSepNeedMoreData:
				return NeedMoreData, nil
			case chunkSepComplete:
				return Complete, nil
			case chunkSepContinue:
				m.Phase = PhaseBodyChunkedLength
			}
		}
	}
}

func (m *HttpMessage) processRequestResponse(r *reassembly.StreamReassembler) (bool, error) {
	outcome, line := ReadLine(r)
	switch outcome {
	case NeedMoreBytes, StringAtEndOfStream:
		return false, nil
	case NonAsciiCharacterFound:
		return false, parseErr(HttpError, nil)
	}

	if m.IsRequest() {
		if err := m.parseRequestLine(line); err != nil {
			return false, err
		}
	} else {
		if err := m.parseStatusLine(line); err != nil {
			return false, err
		}
	}
	return true, nil
}

// parseRequestLine parses "METHOD SP URL SP HTTP/X.Y" (spec.md §4.5).
func (m *HttpMessage) parseRequestLine(line string) error {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return parseErr(HttpError, nil)
	}
	method, url, version := parts[0], parts[1], parts[2]
	if !knownMethods[method] {
		return parseErr(HttpError, nil)
	}
	if !isHttpVersion(version) {
		return parseErr(HttpVersionParse, nil)
	}
	m.Method, m.URL, m.Version = method, url, version
	return nil
}

// parseStatusLine parses "HTTP/X.Y SP CODE SP REASON_PHRASE"; the reason
// phrase may itself contain spaces, so only the first two spaces are
// significant (spec.md §4.5).
func (m *HttpMessage) parseStatusLine(line string) error {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return parseErr(HttpError, nil)
	}
	version, codeStr := parts[0], parts[1]
	if !isHttpVersion(version) {
		return parseErr(HttpVersionParse, nil)
	}
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return parseErr(HttpStatusCodeParse, err)
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	m.StatusVersion, m.StatusCode, m.Reason = version, code, reason
	return nil
}

func isHttpVersion(s string) bool {
	if !strings.HasPrefix(s, "HTTP/") {
		return false
	}
	rest := strings.TrimPrefix(s, "HTTP/")
	major, minor, found := strings.Cut(rest, ".")
	if !found || major == "" || minor == "" {
		return false
	}
	if _, err := strconv.Atoi(major); err != nil {
		return false
	}
	if _, err := strconv.Atoi(minor); err != nil {
		return false
	}
	return true
}

// processHeaders reads as many complete header lines as are currently
// available, stopping at the terminating empty line (spec.md §4.5).
func (m *HttpMessage) processHeaders(r *reassembly.StreamReassembler) (bool, error) {
	for {
		outcome, line := ReadLine(r)
		switch outcome {
		case NeedMoreBytes, StringAtEndOfStream:
			return false, nil
		case NonAsciiCharacterFound:
			return false, parseErr(HttpError, nil)
		}

		if line == "" {
			return true, nil
		}

		key, val, found := strings.Cut(line, ": ")
		if !found {
			return false, parseErr(HttpError, nil)
		}
		if m.Headers == nil {
			m.Headers = make(map[string]string)
		}
		m.Headers[key] = val

		if key == "Content-Length" {
			n, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				return false, parseErr(HttpContentLengthParse, err)
			}
			m.ContentLength = n
		}
	}
}

func (m *HttpMessage) processBody(r *reassembly.StreamReassembler) (Outcome, error) {
	if r.Length()-r.Position() < m.ContentLength {
		return NeedMoreData, nil
	}
	raw := r.Read(m.ContentLength)
	body, compressed, err := decodeContent(raw, m.Headers["Content-Encoding"])
	if err != nil {
		return Errored, err
	}
	m.Body = body
	m.CompressedBody = compressed
	return Complete, nil
}

func (m *HttpMessage) processBodyChunkedLength(r *reassembly.StreamReassembler) (bool, error) {
	outcome, line := ReadLine(r)
	switch outcome {
	case NeedMoreBytes, StringAtEndOfStream:
		return false, nil
	case NonAsciiCharacterFound:
		return false, parseErr(HttpChunkLengthParse, nil)
	}

	n, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
	if err != nil {
		return false, parseErr(HttpChunkLengthParse, err)
	}
	m.chunkLength = int(n)
	return true, nil
}

func (m *HttpMessage) processBodyChunkData(r *reassembly.StreamReassembler) (bool, error) {
	if m.chunkLength == 0 {
		return true, nil
	}
	if r.Length()-r.Position() < m.chunkLength {
		return false, nil
	}
	m.Body = append(m.Body, r.Read(m.chunkLength)...)
	return true, nil
}

// chunkSepResult is processBodyChunkSeparator's own small result space: it
// needs a third outcome ("loop back to BodyChunkedLength") that doesn't fit
// Outcome's NeedMoreData/Complete/Errored vocabulary.
type chunkSepResult int

const (
	chunkSepNeedMoreData chunkSepResult = iota
	chunkSepComplete
	chunkSepContinue
)

func (m *HttpMessage) processBodyChunkSeparator(r *reassembly.StreamReassembler) (chunkSepResult, error) {
	outcome, line := ReadLine(r)
	switch outcome {
	case NeedMoreBytes, StringAtEndOfStream:
		return chunkSepNeedMoreData, nil
	case NonAsciiCharacterFound:
		return chunkSepNeedMoreData, parseErr(HttpError, nil)
	}
	if line != "" {
		return chunkSepNeedMoreData, parseErr(HttpError, nil)
	}

	if m.chunkLength != 0 {
		return chunkSepContinue, nil
	}

	body, compressed, err := decodeContent(m.Body, m.Headers["Content-Encoding"])
	if err != nil {
		return chunkSepNeedMoreData, err
	}
	m.Body = body
	m.CompressedBody = compressed
	return chunkSepComplete, nil
}
