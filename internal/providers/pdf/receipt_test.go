package pdf

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReceipt(t *testing.T) {
	r, err := New().GenerateReceipt(context.Background(), ReceiptData{
		Reference:        "std_01HZX3",
		EventName:        "Ada & Tunde Wedding",
		GiftItemName:     "Stand mixer",
		ContributorEmail: "guest@example.com",
		Amount:           "10000.00",
		Currency:         "NGN",
		DatePaid:         "2026-02-14",
	})
	require.NoError(t, err)

	doc, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
}

func TestGenerateReceiptRequiresReference(t *testing.T) {
	_, err := New().GenerateReceipt(context.Background(), ReceiptData{Amount: "1"})
	assert.ErrorIs(t, err, ErrInvalidReceipt)
}
