package main

import "errors"

var errInvalidPayload = errors.New("jobflow: -payload is not valid JSON")
