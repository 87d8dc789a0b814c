package ingest

import (
	"encoding/json"
	"io"
	"net/http"

	"pitalert/internal/domain"
)

// ReadingSink receives decoded readings from ingest interfaces.
// Params: decoded reading payload.
// Returns: processing error.
type ReadingSink interface {
	Push(reading domain.Reading) error
}

// HTTPHandler decodes JSON readings and forwards them to sink.
// Params: sink receives validated readings, max body limits payload size.
// Returns: HTTP handler for the readings endpoint.
type HTTPHandler struct {
	sink        ReadingSink
	maxBodySize int64
	batch       bool
}

// NewHTTPHandler creates readings HTTP handler.
// Params: sink and max request body size in bytes.
// Returns: configured single-reading handler.
func NewHTTPHandler(sink ReadingSink, maxBodySize int64) *HTTPHandler {
	return &HTTPHandler{sink: sink, maxBodySize: maxBodySize}
}

// NewBatchHTTPHandler creates readings batch HTTP handler.
// Params: sink and max request body size in bytes.
// Returns: configured batch handler accepting one JSON array.
func NewBatchHTTPHandler(sink ReadingSink, maxBodySize int64) *HTTPHandler {
	return &HTTPHandler{sink: sink, maxBodySize: maxBodySize, batch: true}
}

// ServeHTTP handles one incoming readings request.
// Params: HTTP request/response writer pair.
// Returns: writes status code according to decode/push result.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()

	if h.batch {
		h.serveBatch(writer, request)
		return
	}

	body, err := io.ReadAll(request.Body)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	reading, err := domain.DecodeReading(body)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.sink.Push(reading); err != nil {
		writer.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writer.WriteHeader(http.StatusAccepted)
}

// serveBatch decodes one JSON array of readings and pushes them in order.
// A push failure mid-batch stops processing; earlier readings stay applied.
func (h *HTTPHandler) serveBatch(writer http.ResponseWriter, request *http.Request) {
	readings, err := domain.DecodeReadingsReader(json.NewDecoder(request.Body))
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	for _, reading := range readings {
		if err := h.sink.Push(reading); err != nil {
			writer.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	writer.WriteHeader(http.StatusAccepted)
}
