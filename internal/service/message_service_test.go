package service

import (
	"context"
	"errors"
	"testing"

	"github.com/kursadbilgin/workflow-engine/internal/domain"
	"github.com/kursadbilgin/workflow-engine/internal/repository"
	"go.uber.org/zap"
)

func testFilter() repository.MessageFilter {
	return repository.MessageFilter{
		OrganizationID: "org1",
		EnvironmentID:  "env1",
		TransactionID:  "tx1",
	}
}

func TestMessageServiceFind(t *testing.T) {
	t.Parallel()

	messages := &fakeMessageRepo{
		findFn: func(ctx context.Context, filter repository.MessageFilter) ([]domain.Message, error) {
			return []domain.Message{{ID: "m1", TransactionID: filter.TransactionID}}, nil
		},
	}

	svc, err := NewMessageService(messages, &fakeJobRepo{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewMessageService() error = %v", err)
	}

	found, err := svc.Find(context.Background(), testFilter())
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(found) != 1 || found[0].ID != "m1" {
		t.Fatalf("found = %+v, want one message m1", found)
	}
}

func TestMessageServiceFindRequiresTransactionID(t *testing.T) {
	t.Parallel()

	svc, err := NewMessageService(&fakeMessageRepo{}, &fakeJobRepo{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewMessageService() error = %v", err)
	}

	filter := testFilter()
	filter.TransactionID = ""
	if _, err := svc.Find(context.Background(), filter); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestMessageServiceDeleteCancelsJobsAndDeletesMessages(t *testing.T) {
	t.Parallel()

	var canceledTx string
	var gotChannel *domain.Channel

	jobs := &fakeJobRepo{
		cancelByTransactionFn: func(ctx context.Context, transactionID string, channel *domain.Channel) (int64, error) {
			canceledTx = transactionID
			gotChannel = channel
			return 2, nil
		},
	}
	messages := &fakeMessageRepo{
		deleteByTransactionFn: func(ctx context.Context, filter repository.MessageFilter) (int64, error) {
			return 3, nil
		},
	}

	svc, err := NewMessageService(messages, jobs, zap.NewNop())
	if err != nil {
		t.Fatalf("NewMessageService() error = %v", err)
	}

	channel := domain.ChannelEmail
	filter := testFilter()
	filter.Channel = &channel

	deleted, err := svc.DeleteByTransaction(context.Background(), filter)
	if err != nil {
		t.Fatalf("DeleteByTransaction() error = %v", err)
	}
	if deleted != 3 {
		t.Fatalf("deleted = %d, want 3", deleted)
	}
	if canceledTx != "tx1" {
		t.Fatalf("canceled transaction = %q, want tx1", canceledTx)
	}
	if gotChannel == nil || *gotChannel != domain.ChannelEmail {
		t.Fatalf("cancel channel = %v, want EMAIL", gotChannel)
	}
}

func TestMessageServiceDeleteUnknownTransaction(t *testing.T) {
	t.Parallel()

	svc, err := NewMessageService(&fakeMessageRepo{}, &fakeJobRepo{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewMessageService() error = %v", err)
	}

	_, err = svc.DeleteByTransaction(context.Background(), testFilter())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestMessageServiceDeleteWithOnlyCanceledJobsSucceeds(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobRepo{
		cancelByTransactionFn: func(ctx context.Context, transactionID string, channel *domain.Channel) (int64, error) {
			return 1, nil
		},
	}

	svc, err := NewMessageService(&fakeMessageRepo{}, jobs, zap.NewNop())
	if err != nil {
		t.Fatalf("NewMessageService() error = %v", err)
	}

	deleted, err := svc.DeleteByTransaction(context.Background(), testFilter())
	if err != nil {
		t.Fatalf("DeleteByTransaction() error = %v", err)
	}
	if deleted != 0 {
		t.Fatalf("deleted = %d, want 0", deleted)
	}
}
