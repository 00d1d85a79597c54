package common_test

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-quoting/internal/common"
)

func TestLogEmailSenderWritesLog(t *testing.T) {
	var buf bytes.Buffer
	sender := common.LogEmailSender{Logger: zerolog.New(&buf)}

	require.NoError(t, sender.Send("buyer@example.com", "Your quote SP0829-1001", "<p>hi</p>"))

	out := buf.String()
	require.Contains(t, out, "email_logged_not_sent")
	require.Contains(t, out, "buyer@example.com")
	require.Contains(t, out, "Your quote SP0829-1001")
}

func TestNopEmailSenderDiscards(t *testing.T) {
	require.NoError(t, common.NopEmailSender{}.Send("buyer@example.com", "subject", "body"))
}
