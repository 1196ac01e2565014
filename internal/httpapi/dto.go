package httpapi

import (
	"encoding/json"
	"fmt"
)

// StringOrSlice accepts a JSON value that is either a single string or an
// array of strings, per §6's `at?: string|string[]` body field.
type StringOrSlice []string

func (s *StringOrSlice) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = []string{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*s = many
		return nil
	}

	return fmt.Errorf("httpapi: \"at\" must be a string or an array of strings")
}

// PairRequest is a single entry of the POST /rates/:granularity body.
type PairRequest struct {
	From     string        `json:"from" binding:"required"`
	To       string        `json:"to" binding:"required"`
	Exchange string        `json:"exchange"`
	After    string        `json:"after"`
	AfterDay string        `json:"afterDay"`
	At       StringOrSlice `json:"at"`
}

// RatesRequest is the POST /rates/:granularity request body.
type RatesRequest struct {
	Pairs []PairRequest `json:"pairs" binding:"required,max=100,dive"`
}
