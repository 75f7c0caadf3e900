package messaging

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func samplePayloads() map[Kind]Payload {
	amount := decimal.RequireFromString("40.50")
	return map[Kind]Payload{
		KindCreditRequest:     CreditRequest{UserID: "u1", Amount: amount, Currency: "RUB", SourceCreditID: "src-1"},
		KindDebitRequest:      DebitRequest{UserID: "u1", Amount: amount, Currency: "RUB", SourceDebitID: "wd-1"},
		KindTransferRequest:   TransferRequest{FromUserID: "u1", ToUserID: "u2", Amount: amount, Currency: "RUB"},
		KindCreditInstruction: CreditInstruction{UserID: "u2", Amount: amount, Currency: "RUB", Legs: 2},
		KindDebitInstruction:  DebitInstruction{UserID: "u1", Amount: amount, Currency: "RUB", Legs: 1},
	}
}

func TestEveryKindHasDecoder(t *testing.T) {
	samples := samplePayloads()
	require.Len(t, decoders, len(Kinds()))
	require.Len(t, samples, len(Kinds()))

	for _, kind := range Kinds() {
		_, ok := decoders[kind]
		require.Truef(t, ok, "no decoder registered for %s", kind)

		sample, ok := samples[kind]
		require.Truef(t, ok, "no sample for %s", kind)
		require.Equal(t, kind, sample.Kind())

		body, id, err := Encode(Outbound{CorrelationID: "corr-1", ReplyTo: "wallet-service", Payload: sample}, time.Now())
		require.NoError(t, err)

		msg, err := Decode(body)
		require.NoError(t, err)
		require.Equal(t, id, msg.ID)
		require.Equal(t, "corr-1", msg.CorrelationID)
		require.Equal(t, "wallet-service", msg.ReplyTo)
		require.Equal(t, kind, msg.Payload.Kind())
	}
}

func TestEncodeWritesDecimalStrings(t *testing.T) {
	body, _, err := Encode(Outbound{
		CorrelationID: "corr-1",
		Payload:       DebitInstruction{UserID: "u1", Amount: decimal.RequireFromString("0.10"), Currency: "USD", Legs: 1},
	}, time.Now())
	require.NoError(t, err)

	var raw struct {
		Type    string `json:"type"`
		Payload struct {
			Amount string `json:"amount"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(body, &raw))
	require.Equal(t, "debit-instruction", raw.Type)
	require.Equal(t, "0.1", raw.Payload.Amount)
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"not json":        `{"id":`,
		"unknown type":    `{"id":"m1","correlationId":"c1","type":"refund-request","payload":{}}`,
		"missing corr id": `{"id":"m1","type":"credit-request","payload":{"userId":"u1","amount":"1","currency":"RUB"}}`,
		"missing user":    `{"id":"m1","correlationId":"c1","type":"credit-request","payload":{"amount":"1","currency":"RUB"}}`,
		"zero amount":     `{"id":"m1","correlationId":"c1","type":"debit-request","payload":{"userId":"u1","amount":"0","currency":"RUB"}}`,
		"negative amount": `{"id":"m1","correlationId":"c1","type":"transfer-request","payload":{"fromUserId":"u1","toUserId":"u2","amount":"-3","currency":"RUB"}}`,
		"bad amount":      `{"id":"m1","correlationId":"c1","type":"credit-instruction","payload":{"userId":"u1","amount":"abc","currency":"RUB","legs":1}}`,
		"bad legs":        `{"id":"m1","correlationId":"c1","type":"debit-instruction","payload":{"userId":"u1","amount":"1","currency":"RUB","legs":3}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(body))
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrMalformed), "expected ErrMalformed, got %v", err)
		})
	}
}

func TestEncodeRejectsInvalidPayload(t *testing.T) {
	_, _, err := Encode(Outbound{CorrelationID: "c1", Payload: CreditRequest{UserID: "u1", Amount: decimal.Zero, Currency: "RUB"}}, time.Now())
	require.ErrorIs(t, err, ErrMalformed)

	_, _, err = Encode(Outbound{CorrelationID: "c1", Payload: DebitInstruction{UserID: "u1", Amount: decimal.RequireFromString("1.00005"), Currency: "RUB", Legs: 1}}, time.Now())
	require.ErrorIs(t, err, ErrMalformed)

	_, _, err = Encode(Outbound{Payload: CreditRequest{UserID: "u1", Amount: decimal.NewFromInt(1), Currency: "RUB"}}, time.Now())
	require.ErrorIs(t, err, ErrMalformed)
}
