package handler

import (
	"bytes"
	"embed"
	"encoding/json"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

const schemaBaseURL = "https://storefront.local/schemas/"

// schemas holds the compiled request schemas keyed by file name without
// the extension, e.g. "place_order".
type schemas struct {
	byName map[string]*jsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	entries, err := fs.ReadDir(schemaFiles, "schemas")
	if err != nil {
		return nil, err
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true

	s := &schemas{byName: make(map[string]*jsonschema.Schema, len(entries))}
	for _, e := range entries {
		data, err := schemaFiles.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, err
		}
		url := schemaBaseURL + e.Name()
		if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
			return nil, errors.Wrapf(err, "load %s", e.Name())
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, errors.Wrapf(err, "compile %s", e.Name())
		}
		s.byName[strings.TrimSuffix(e.Name(), ".json")] = compiled
	}
	return s, nil
}

// decode reads the JSON body, validates it against the named schema and
// unmarshals it into dst.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, schema string, dst any) error {
	sch, ok := h.schemas.byName[schema]
	if !ok {
		return errors.Errorf("unknown schema %q", schema)
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodySize))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return errors.Wrap(errInvalidRequest, "request body is empty")
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return errors.Wrap(errInvalidRequest, "request body is not valid JSON")
	}
	if dec.More() {
		return errors.Wrap(errInvalidRequest, "request body has trailing data")
	}
	if err := sch.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return errors.Wrap(errInvalidRequest, describe(ve))
		}
		return errors.Wrap(errInvalidRequest, err.Error())
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return errors.Wrap(errInvalidRequest, err.Error())
	}
	return nil
}

// describe returns the most specific cause of a validation failure.
func describe(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := strings.TrimPrefix(ve.InstanceLocation, "/")
	if loc == "" {
		return ve.Message
	}
	return strings.ReplaceAll(loc, "/", ".") + ": " + ve.Message
}

// pageParams reads ?page= and ?limit=. Missing values are zero and get
// defaults from the domain filters.
func pageParams(r *http.Request) (page, limit int, err error) {
	if page, err = intParam(r, "page"); err != nil {
		return 0, 0, err
	}
	if limit, err = intParam(r, "limit"); err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.Wrapf(errInvalidRequest, "%s must be a non-negative integer", name)
	}
	return v, nil
}

func boolParam(r *http.Request, name string) (value, set bool, err error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, errors.Wrapf(errInvalidRequest, "%s must be a boolean", name)
	}
	return v, true, nil
}

// encoder is implemented by every response body.
type encoder interface {
	Encode(e *jx.Encoder)
}

func writeJSON(w http.ResponseWriter, status int, body encoder) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	body.Encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func noContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}
