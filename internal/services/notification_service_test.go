package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	phone   string
	message string
	err     error
	calls   int
}

func (f *fakeSender) Send(_ context.Context, phone, message string) error {
	f.calls++
	f.phone = phone
	f.message = message
	return f.err
}

func (f *fakeSender) Name() string { return "fake" }

func TestNotificationText(t *testing.T) {
	tests := []struct {
		note Notification
		want string
	}{
		{Notification{Type: NotifyBookingConfirmed, BookingReference: "BK12345678", Currency: "LKR", Amount: 2000}, "SmartTransit: booking BK12345678 confirmed. Paid LKR 2000.00."},
		{Notification{Type: NotifyRefundInitiated, Currency: "LKR", Amount: 1500.5}, "SmartTransit: a refund of LKR 1500.50 has been initiated."},
		{Notification{Type: NotifyHoldExpired}, "SmartTransit: your seat hold expired before payment completed."},
		{Notification{Type: NotifyHoldPlaced, Message: "custom"}, "custom"},
		{Notification{Type: "other"}, "SmartTransit: booking update."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.note.Text())
	}
}

func TestSMSNotifier_SendsToPhone(t *testing.T) {
	sender := &fakeSender{}
	n := NewSMSNotifier(sender, testLogger())

	err := n.Notify(context.Background(), Notification{Type: NotifyBookingCancelled, Phone: "0771234567", BookingReference: "BKX"})
	require.NoError(t, err)
	assert.Equal(t, "0771234567", sender.phone)
	assert.Equal(t, "SmartTransit: booking BKX cancelled.", sender.message)
}

func TestSMSNotifier_NoPhoneFallsBackToLog(t *testing.T) {
	sender := &fakeSender{}
	n := NewSMSNotifier(sender, testLogger())

	require.NoError(t, n.Notify(context.Background(), Notification{Type: NotifyPaymentFailed}))
	assert.Zero(t, sender.calls)
}

func TestSMSNotifier_WrapsSendError(t *testing.T) {
	boom := errors.New("quota exceeded")
	n := NewSMSNotifier(&fakeSender{err: boom}, testLogger())

	err := n.Notify(context.Background(), Notification{Type: NotifyHoldPlaced, Phone: "0771234567"})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "send hold_placed sms")
}
