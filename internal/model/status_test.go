package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ts(sec int64) *time.Time {
	t := time.Unix(sec, 0)
	return &t
}

func TestComputeDeliveryStatus(t *testing.T) {
	tests := []struct {
		name     string
		current  DeliveryStatus
		infos    []RecipientInfo
		expected DeliveryStatus
	}{
		{"no recipients", StatusUnprocessed, nil, StatusNoRecipient},
		{"none assigned", StatusUnprocessed, []RecipientInfo{{Recipient: "bob"}}, StatusUnprocessed},
		{"assigned not sent", StatusUnprocessed, []RecipientInfo{
			{Recipient: "bob", EngineMessageID: "e1"},
		}, StatusProcessing},
		{"partially sent", StatusProcessing, []RecipientInfo{
			{Recipient: "bob", EngineMessageID: "e1", SentAt: ts(1)},
			{Recipient: "carol", EngineMessageID: "e2"},
		}, StatusProcessing},
		{"all sent", StatusProcessing, []RecipientInfo{
			{Recipient: "bob", EngineMessageID: "e1", SentAt: ts(1)},
			{Recipient: "carol", EngineMessageID: "e2", SentAt: ts(1)},
		}, StatusSent},
		{"all delivered", StatusSent, []RecipientInfo{
			{Recipient: "bob", EngineMessageID: "e1", SentAt: ts(1), DeliveredAt: ts(2)},
		}, StatusDelivered},
		{"all read", StatusDelivered, []RecipientInfo{
			{Recipient: "bob", EngineMessageID: "e1", SentAt: ts(1), DeliveredAt: ts(2), ReadAt: ts(3)},
		}, StatusRead},
		{"one failed", StatusProcessing, []RecipientInfo{
			{Recipient: "bob", EngineMessageID: "e1", SentAt: ts(1)},
			{Recipient: "carol", EngineMessageID: "e2", Failed: true},
		}, StatusCouldNotBeSent},
		{"absorbing other device", StatusFromOtherDevice, []RecipientInfo{
			{Recipient: "bob", EngineMessageID: "e1", SentAt: ts(1)},
		}, StatusFromOtherDevice},
		{"absorbing failure", StatusCouldNotBeSent, []RecipientInfo{
			{Recipient: "bob", EngineMessageID: "e1", SentAt: ts(1), DeliveredAt: ts(2), ReadAt: ts(3)},
		}, StatusCouldNotBeSent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ComputeDeliveryStatus(tt.current, tt.infos))
		})
	}
}

func TestDeliveryStatusOrdering(t *testing.T) {
	assert.True(t, StatusUnprocessed.Precedes(StatusProcessing))
	assert.True(t, StatusSent.Precedes(StatusRead))
	assert.False(t, StatusRead.Precedes(StatusSent))
	assert.False(t, StatusSent.Precedes(StatusCouldNotBeSent))

	assert.True(t, StatusDelivered.HasReachedSent())
	assert.False(t, StatusProcessing.HasReachedSent())
	assert.False(t, StatusNoRecipient.HasReachedSent())
}
