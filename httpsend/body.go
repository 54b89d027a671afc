package httpsend

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"os"
	"strings"
)

// FileOpener abstracts disk access for binary bodies and multipart file
// parts so tests can substitute an in-memory filesystem.
type FileOpener interface {
	Open(path string) (io.ReadCloser, int64, error)
}

// osOpener is the default FileOpener, backed by the real filesystem.
type osOpener struct{}

func (osOpener) Open(path string) (io.ReadCloser, int64, error) {
	f, err := os.Open(path) // #nosec G304 -- path is operator/user-supplied request data, same trust boundary as the request itself
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// DefaultFileOpener is the filesystem-backed FileOpener used when callers
// don't need to substitute one for tests.
var DefaultFileOpener FileOpener = osOpener{}

// formField mirrors resolver's post-render form entry shape (name/value
// pairs that have already had disabled entries stripped).
type formField struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	Enabled bool   `json:"enabled"`
	// File, when non-empty, marks this as a multipart file part rather
	// than a plain text field.
	File        string `json:"file,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// bodyResult carries the body, the content-type header it implies (empty
// if none), and a possibly rewritten URL (graphql-over-GET moves the
// query into the URL).
type bodyResult struct {
	body        Body
	contentType string
	url         string
}

func buildBody(method, rawURL, bodyType string, body map[string]json.RawMessage, opener FileOpener) (bodyResult, error) {
	if opener == nil {
		opener = DefaultFileOpener
	}

	switch bodyType {
	case "", "none":
		return bodyResult{body: Body{Kind: BodyNone}, url: rawURL}, nil

	case "application/x-www-form-urlencoded":
		fields, err := decodeFormFields(body)
		if err != nil {
			return bodyResult{}, err
		}
		vals := url.Values{}
		for _, f := range fields {
			if !f.Enabled {
				continue
			}
			vals.Add(f.Name, f.Value)
		}
		encoded := vals.Encode()
		return bodyResult{
			body:        Body{Kind: BodyBytes, Bytes: []byte(encoded), ContentLength: int64(len(encoded))},
			contentType: "application/x-www-form-urlencoded",
			url:         rawURL,
		}, nil

	case "multipart/form-data":
		fields, err := decodeFormFields(body)
		if err != nil {
			return bodyResult{}, err
		}
		return buildMultipart(fields, opener, rawURL)

	case "application/json", "text/plain", "application/xml":
		text, err := stringField(body, "text")
		if err != nil {
			return bodyResult{}, err
		}
		return bodyResult{
			body:        Body{Kind: BodyBytes, Bytes: []byte(text), ContentLength: int64(len(text))},
			contentType: bodyType,
			url:         rawURL,
		}, nil

	case "application/graphql":
		return buildGraphQL(method, rawURL, body)

	case "binary":
		path, err := stringField(body, "filePath")
		if err != nil {
			return bodyResult{}, err
		}
		f, size, err := opener.Open(path)
		if err != nil {
			return bodyResult{}, fmt.Errorf("httpsend: open binary body %q: %w", path, err)
		}
		return bodyResult{
			body: Body{Kind: BodyStream, Stream: f, ContentLength: size},
			url:  rawURL,
		}, nil

	default:
		// Unknown body_type: spec.md treats anything not in the known list
		// as carrying no body.
		return bodyResult{body: Body{Kind: BodyNone}, url: rawURL}, nil
	}
}

func decodeFormFields(body map[string]json.RawMessage) ([]formField, error) {
	raw, ok := body["form"]
	if !ok {
		return nil, nil
	}
	var fields []formField
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("httpsend: decode form body: %w", err)
	}
	return fields, nil
}

func stringField(body map[string]json.RawMessage, key string) (string, error) {
	raw, ok := body[key]
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("httpsend: decode body[%q]: %w", key, err)
	}
	return s, nil
}

// buildMultipart writes enabled text fields and file parts into a
// streamed multipart body via an io.Pipe, so large file parts are never
// fully buffered in memory.
func buildMultipart(fields []formField, opener FileOpener, rawURL string) (bodyResult, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeMultipartParts(mw, fields, opener)
		closeErr := mw.Close()
		if err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()

	return bodyResult{
		body:        Body{Kind: BodyStream, Stream: pr, ContentLength: -1},
		contentType: mw.FormDataContentType(),
		url:         rawURL,
	}, nil
}

func writeMultipartParts(mw *multipart.Writer, fields []formField, opener FileOpener) error {
	for _, f := range fields {
		if !f.Enabled {
			continue
		}
		if f.File == "" {
			if err := mw.WriteField(f.Name, f.Value); err != nil {
				return fmt.Errorf("httpsend: write multipart field %q: %w", f.Name, err)
			}
			continue
		}

		rc, _, err := opener.Open(f.File)
		if err != nil {
			return fmt.Errorf("httpsend: open multipart file %q: %w", f.File, err)
		}
		part, err := mw.CreatePart(multipartFileHeader(f.Name, f.File, f.ContentType))
		if err != nil {
			rc.Close()
			return fmt.Errorf("httpsend: create multipart part %q: %w", f.Name, err)
		}
		_, copyErr := io.Copy(part, rc)
		rc.Close()
		if copyErr != nil {
			return fmt.Errorf("httpsend: stream multipart file %q: %w", f.File, copyErr)
		}
	}
	return nil
}

func multipartFileHeader(fieldName, filePath, contentType string) (h map[string][]string) {
	base := filePath
	if idx := strings.LastIndexAny(filePath, "/\\"); idx >= 0 {
		base = filePath[idx+1:]
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return map[string][]string{
		"Content-Disposition": {fmt.Sprintf(`form-data; name=%q; filename=%q`, fieldName, base)},
		"Content-Type":        {contentType},
	}
}

// buildGraphQL implements spec.md Â§4.D: non-GET produces a JSON body;
// GET suppresses the body and moves query/variables into URL parameters.
func buildGraphQL(method, rawURL string, body map[string]json.RawMessage) (bodyResult, error) {
	query, err := stringField(body, "query")
	if err != nil {
		return bodyResult{}, err
	}
	variables := body["variables"]

	if strings.EqualFold(method, "GET") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return bodyResult{}, fmt.Errorf("httpsend: parse graphql url: %w", err)
		}
		q := u.Query()
		q.Set("query", query)
		if len(variables) > 0 {
			q.Set("variables", string(variables))
		}
		u.RawQuery = q.Encode()
		return bodyResult{body: Body{Kind: BodyNone}, url: u.String()}, nil
	}

	payload := map[string]json.RawMessage{"query": jsonString(query)}
	if len(variables) > 0 {
		payload["variables"] = variables
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return bodyResult{}, fmt.Errorf("httpsend: encode graphql body: %w", err)
	}
	return bodyResult{
		body:        Body{Kind: BodyBytes, Bytes: encoded, ContentLength: int64(len(encoded))},
		contentType: "application/json",
		url:         rawURL,
	}, nil
}

func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
