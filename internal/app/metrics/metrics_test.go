package metrics

import "testing"

func TestCanonicalPath_CollapsesNumericIDs(t *testing.T) {
	got := canonicalPath("/tasks/123")
	want := "/tasks/:id"
	if got != want {
		t.Fatalf("canonicalPath() = %q, want %q", got, want)
	}
}

func TestCanonicalPath_CollapsesUUIDs(t *testing.T) {
	got := canonicalPath("/merchants/3f9a2b10-aaaa-bbbb-cccc-0123456789ab")
	want := "/merchants/:id"
	if got != want {
		t.Fatalf("canonicalPath() = %q, want %q", got, want)
	}
}

func TestCanonicalPath_LeavesWordsAlone(t *testing.T) {
	got := canonicalPath("/tasks/completed")
	want := "/tasks/completed"
	if got != want {
		t.Fatalf("canonicalPath() = %q, want %q", got, want)
	}
}

func TestRecordHelpers_DoNotPanic(t *testing.T) {
	RecordTaskClaimed()
	RecordTaskTerminal("dunning_retry", "completed")
	RecordWebhookEvent("invoice.payment_failed", "enqueued")
	RecordQuotaBreach("worker")
	RecordIdempotencyReplay()
}
