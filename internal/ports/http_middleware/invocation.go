package http_middleware

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/fllarpy/reqprof/domain"
)

// maxFormBytes bounds how much of a request body is buffered to count form fields.
const maxFormBytes = 10 << 20

// NewInvocation describes r for the request log. For methods that carry a
// body the body is buffered to count its form fields and then restored, so
// the handler reads it unchanged.
func NewInvocation(r *http.Request) domain.Invocation {
	inv := domain.Invocation{
		Method:   r.Method,
		URI:      r.RequestURI,
		Scheme:   "http",
		Host:     r.Host,
		Referrer: r.Referer(),
	}
	if inv.URI == "" && r.URL != nil {
		inv.URI = r.URL.RequestURI()
	}
	if r.TLS != nil {
		inv.Scheme = "https"
	}
	if !domain.CarriesBody(r.Method) || r.Body == nil || r.Body == http.NoBody {
		return inv
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, maxFormBytes))
	r.Body = restoredBody{Reader: io.MultiReader(bytes.NewReader(buf), r.Body), Closer: r.Body}
	if err != nil {
		return inv
	}

	inv.BodyBytes = r.ContentLength
	if inv.BodyBytes < 0 {
		inv.BodyBytes = int64(len(buf))
	}
	inv.FormVars = countFormVars(r.Header.Get("Content-Type"), buf)
	return inv
}

type restoredBody struct {
	io.Reader
	io.Closer
}

// countFormVars counts the distinct non-file fields of an urlencoded or
// multipart body. Other content types have no form fields.
func countFormVars(contentType string, body []byte) int {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return 0
	}

	switch mediaType {
	case "application/x-www-form-urlencoded":
		// ParseQuery keeps the fields it could parse.
		values, _ := url.ParseQuery(string(body))
		return len(values)
	case "multipart/form-data":
		boundary := params["boundary"]
		if boundary == "" {
			return 0
		}
		names := make(map[string]struct{})
		mr := multipart.NewReader(bytes.NewReader(body), boundary)
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			if part.FormName() != "" && part.FileName() == "" {
				names[part.FormName()] = struct{}{}
			}
			_ = part.Close()
		}
		return len(names)
	}
	return 0
}
