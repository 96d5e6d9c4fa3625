package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeArchiver struct {
	orderCutoff    time.Time
	purchaseCutoff time.Time
	orderErr       error
}

func (f *fakeArchiver) ArchiveOrders(_ context.Context, before time.Time) (int64, error) {
	f.orderCutoff = before
	return 3, f.orderErr
}

func (f *fakeArchiver) ArchivePurchases(_ context.Context, before time.Time) (int64, error) {
	f.purchaseCutoff = before
	return 1, nil
}

func TestArchiveJobRunOnce(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	arch := &fakeArchiver{}
	job := NewArchiveJob(arch, 30*24*time.Hour, time.Hour, testLogger())
	job.now = func() time.Time { return now }

	orders, purchases, err := job.RunOnce(context.Background())
	if err != nil || orders != 3 || purchases != 1 {
		t.Fatalf("RunOnce = %d, %d, %v", orders, purchases, err)
	}
	want := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	if !arch.orderCutoff.Equal(want) || !arch.purchaseCutoff.Equal(want) {
		t.Fatalf("cutoffs = %v / %v, want %v", arch.orderCutoff, arch.purchaseCutoff, want)
	}
}

func TestArchiveJobContinuesAfterOrderFailure(t *testing.T) {
	arch := &fakeArchiver{orderErr: errors.New("bucket unavailable")}
	job := NewArchiveJob(arch, time.Hour, time.Hour, testLogger())

	_, purchases, err := job.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected order archive error")
	}
	if purchases != 1 || arch.purchaseCutoff.IsZero() {
		t.Fatal("purchases were not archived after the order failure")
	}
}
