// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/failure"
)

// statusClientClosedRequest follows the nginx convention for a caller that
// went away before the operation finished.
const statusClientClosedRequest = 499

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error       string `json:"error"`
	Kind        string `json:"kind"`
	Step        string `json:"step,omitempty"`
	Detail      string `json:"detail,omitempty"`
	Remediation string `json:"remediation,omitempty"`
}

// StatusFor maps an error to an HTTP status code.
func StatusFor(err error) int {
	switch failure.KindOf(err) {
	case failure.KindLockHeld:
		return http.StatusConflict
	case failure.KindNotFound:
		return http.StatusNotFound
	case failure.KindTimeout:
		return http.StatusGatewayTimeout
	case failure.KindNetworkFailure, failure.KindExternalProcessFailure:
		return http.StatusBadGateway
	case failure.KindCancelled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func newErrorResponse(err error) ErrorResponse {
	resp := ErrorResponse{Error: err.Error(), Kind: failure.KindOf(err).String()}
	var fe *failure.Error
	if errors.As(err, &fe) {
		resp.Error = fe.Message
		resp.Step = fe.Step
		resp.Detail = fe.Detail
		resp.Remediation = fe.Remediation
	}
	return resp
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(StatusFor(err), newErrorResponse(err))
}
