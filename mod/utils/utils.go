package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

/*
	Common HTTP helpers shared by the control API handlers
*/

// SendJSONResponse writes an already encoded JSON document
func SendJSONResponse(w http.ResponseWriter, json string) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(json))
}

// SendErrorResponse writes {"error": msg} with status 200, the way the
// dashboard scripts expect it
func SendErrorResponse(w http.ResponseWriter, errMsg string) {
	SendErrorResponseWithStatus(w, http.StatusOK, errMsg)
}

// SendErrorResponseWithStatus writes {"error": msg} with the given status
func SendErrorResponseWithStatus(w http.ResponseWriter, status int, errMsg string) {
	js, _ := json.Marshal(map[string]string{"error": errMsg})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(js)
}

// SendOK writes the plain "OK" JSON string
func SendOK(w http.ResponseWriter) {
	SendJSONResponse(w, "\"OK\"")
}

// GetPara returns a non-empty query parameter
func GetPara(r *http.Request, key string) (string, error) {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return "", errors.New("invalid " + key + " given")
	}
	return value, nil
}

// PostPara returns a non-empty form parameter
func PostPara(r *http.Request, key string) (string, error) {
	if err := r.ParseForm(); err != nil {
		return "", err
	}
	value := strings.TrimSpace(r.PostForm.Get(key))
	if value == "" {
		return "", errors.New("invalid " + key + " given")
	}
	return value, nil
}
