/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-crptclient/log"
	"github.com/acronis/go-crptclient/log/logtest"
)

func TestMaskingLogger(t *testing.T) {
	recorder := logtest.NewRecorder()
	logger := log.NewMaskingLogger(recorder, log.NewMasker(log.DefaultMasks))

	logger.With(log.String("headers", "Signature: secret-1")).Warn(
		`request {"signature":"secret-2"} rejected`,
		log.String("response", `{"error":"bad","password":"secret-3"}`),
		log.Error(errors.New("Authorization: Bearer secret-4")),
		log.Int("status", 400),
	)

	entries := recorder.Entries()
	require.Len(t, entries, 1)
	entry := entries[0]
	require.Equal(t, log.LevelWarn, entry.Level)
	require.Equal(t, `request {"Signature": "***"} rejected`, entry.Text)

	headers, ok := entry.FindField("headers")
	require.True(t, ok)
	require.Equal(t, "Signature: ***", string(headers.Bytes))

	response, ok := entry.FindField("response")
	require.True(t, ok)
	require.Equal(t, `{"error":"bad","password": "***"}`, string(response.Bytes))

	errField, ok := entry.FindField("error")
	require.True(t, ok)
	require.EqualError(t, errField.Any.(error), "Authorization: ***")

	status, ok := entry.FindField("status")
	require.True(t, ok)
	require.Equal(t, int64(400), status.Int)
}

func TestMaskingLogger_Formatted(t *testing.T) {
	recorder := logtest.NewRecorder()
	logger := log.NewMaskingLogger(recorder, log.NewMasker(log.DefaultMasks))

	logger.Errorf("failed with %s", "Signature: abc")
	logger.AtLevel(log.LevelInfo, func(logFunc log.LogFunc) {
		logFunc("at level", log.String("body", `{"access_token":"xyz"}`))
	})

	entry, found := recorder.FindEntry("failed with Signature: ***")
	require.True(t, found)
	require.Equal(t, log.LevelError, entry.Level)

	entry, found = recorder.FindEntry("at level")
	require.True(t, found)
	body, ok := entry.FindField("body")
	require.True(t, ok)
	require.Equal(t, `{"access_token": "***"}`, string(body.Bytes))
}
