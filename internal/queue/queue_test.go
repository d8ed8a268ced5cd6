package queue

import (
	"testing"

	"github.com/kursadbilgin/workflow-engine/internal/domain"
)

func TestQueueNames(t *testing.T) {
	work := WorkQueueNames()
	if len(work) != 5 {
		t.Fatalf("WorkQueueNames len = %d, want 5", len(work))
	}

	expected := map[string]struct{}{
		"email":  {},
		"sms":    {},
		"chat":   {},
		"push":   {},
		"in_app": {},
	}

	for _, name := range work {
		if _, ok := expected[name]; !ok {
			t.Fatalf("unexpected queue name: %s", name)
		}
	}

	all := AllQueueNames()
	if len(all) != 6 {
		t.Fatalf("AllQueueNames len = %d, want 6", len(all))
	}
	if all[0] != TriggerQueueName {
		t.Fatalf("AllQueueNames()[0] = %s, want %s", all[0], TriggerQueueName)
	}
}

func TestQueueName(t *testing.T) {
	if got := QueueName(domain.ChannelEmail); got != "email" {
		t.Fatalf("QueueName = %s, want email", got)
	}
	if got := DLQName(QueueName(domain.ChannelInApp)); got != "dlq.in_app" {
		t.Fatalf("DLQName = %s, want dlq.in_app", got)
	}
}

func TestTriggerMessageValidate(t *testing.T) {
	if err := (TriggerMessage{TransactionID: "tx1"}).Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if err := (TriggerMessage{}).Validate(); err == nil {
		t.Fatal("Validate() should reject empty transaction id")
	}
}

func TestJobMessageValidate(t *testing.T) {
	valid := JobMessage{JobID: "j1", TransactionID: "tx1", Channel: domain.ChannelSMS}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	missingJob := JobMessage{Channel: domain.ChannelSMS}
	if err := missingJob.Validate(); err == nil {
		t.Fatal("Validate() should reject missing job id")
	}

	badChannel := JobMessage{JobID: "j1", Channel: domain.Channel("CARRIER_PIGEON")}
	if err := badChannel.Validate(); err == nil {
		t.Fatal("Validate() should reject unknown channel")
	}
}
