package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

const dateLayout = "2006-01-02"

// BindNestedOrFlat binds the request body to obj, accepting both {"key": {...}} and {...}.
// The bound struct is then checked against its binding tags.
func BindNestedOrFlat(c *gin.Context, key string, obj interface{}) error {
	var bodyBytes []byte
	if c.Request.Body != nil {
		bodyBytes, _ = io.ReadAll(c.Request.Body)
	}
	// Restore body for subsequent reads
	c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	if err := unmarshalNestedOrFlat(bodyBytes, key, obj); err != nil {
		return err
	}
	if binding.Validator == nil {
		return nil
	}
	return binding.Validator.ValidateStruct(obj)
}

func unmarshalNestedOrFlat(body []byte, key string, obj interface{}) error {
	var nestedMap map[string]json.RawMessage
	if err := json.Unmarshal(body, &nestedMap); err == nil {
		if val, ok := nestedMap[key]; ok {
			return json.Unmarshal(val, obj)
		}
	}
	return json.Unmarshal(body, obj)
}

// paramID reads a positive numeric path parameter
func paramID(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%s inválido", name)
	}
	return uint(id), nil
}

// queryID reads a positive numeric query parameter
func queryID(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Query(name), 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%s es requerido", name)
	}
	return uint(id), nil
}

// parseDate reads a YYYY-MM-DD date. An empty string yields the zero time.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("fecha inválida %q, use AAAA-MM-DD", s)
	}
	return d, nil
}
