package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/firefart/dmarcingest/internal/dmarc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type staticResolver map[string][]string

func (s staticResolver) CachedDNSLookup(ip string) ([]string, error) {
	if d, ok := s[ip]; ok {
		return d, nil
	}
	return nil, errors.New("no such host")
}

func testRows(ips ...string) []dmarc.Row {
	rows := make([]dmarc.Row, len(ips))
	for i, ip := range ips {
		rows[i] = dmarc.Row{
			ReportMetadataReportID: "r_1",
			PolicyPublishedDomain:  "example.com",
			RecordRowSourceIP:      ip,
			RecordRowCount:         int64(i + 1),
		}
	}
	return rows
}

func newTestCoordinator(s Storage, resolver HostResolver) *Coordinator {
	c := NewCoordinator(s, resolver, discardLogger())
	c.now = func() time.Time { return time.UnixMilli(1700000000123) }
	return c
}

func TestPersistBatchSuccess(t *testing.T) {
	t.Parallel()

	s := &mockStorage{}
	ref := "https://files.example.com/report.xml.gz"
	s.On("InsertBatch", mock.Anything, mock.MatchedBy(func(records []Record) bool {
		if len(records) != 3 {
			return false
		}
		for _, r := range records {
			if r.CreateTime != 1700000000123 || r.UpdateTime != r.CreateTime || r.AttachmentURL != ref {
				return false
			}
		}
		return records[0].RecordRowSourceIP == "10.0.0.1" && records[2].RecordRowSourceIP == "10.0.0.3"
	})).Return([]string{"a", "b", "c"}, nil)

	outcome, err := newTestCoordinator(s, nil).Persist(context.Background(), testRows("10.0.0.1", "10.0.0.2", "10.0.0.3"), &ref)
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.Succeeded)
	assert.Equal(t, 0, outcome.Failed)
	assert.Equal(t, []string{"a", "b", "c"}, outcome.InsertedIDs)
	assert.False(t, outcome.UsedFallback)
	require.Len(t, outcome.Items, 3)
	assert.Equal(t, "c", outcome.Items[2].ID)

	s.AssertExpectations(t)
	s.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestPersistFallbackAllFail(t *testing.T) {
	t.Parallel()

	s := &mockStorage{}
	batchErr := errors.New("batch rejected")
	rowErr := errors.New("row rejected")
	s.On("InsertBatch", mock.Anything, mock.Anything).Return(nil, batchErr)
	s.On("InsertOne", mock.Anything, mock.Anything).Return("", rowErr)

	outcome, err := newTestCoordinator(s, nil).Persist(context.Background(), testRows("10.0.0.1", "10.0.0.2"), nil)
	require.Error(t, err)
	assert.Nil(t, outcome)

	var allFailed *AllInsertsFailedError
	require.ErrorAs(t, err, &allFailed)
	assert.Equal(t, 2, allFailed.Rows)
	assert.ErrorIs(t, err, batchErr)
	assert.ErrorIs(t, err, rowErr)

	s.AssertNumberOfCalls(t, "InsertOne", 2)
}

func TestPersistFallbackPartial(t *testing.T) {
	t.Parallel()

	s := &mockStorage{}
	s.On("InsertBatch", mock.Anything, mock.Anything).Return(nil, errors.New("batch rejected"))
	s.On("InsertOne", mock.Anything, mock.MatchedBy(func(r Record) bool {
		return r.RecordRowSourceIP == "10.0.0.2"
	})).Return("", errors.New("row rejected"))
	s.On("InsertOne", mock.Anything, mock.Anything).Return("ok", nil)

	outcome, err := newTestCoordinator(s, nil).Persist(context.Background(), testRows("10.0.0.1", "10.0.0.2", "10.0.0.3"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Succeeded)
	assert.Equal(t, 1, outcome.Failed)
	assert.True(t, outcome.UsedFallback)
	assert.Equal(t, []string{"ok", "ok"}, outcome.InsertedIDs)

	require.Len(t, outcome.Items, 3)
	for i, item := range outcome.Items {
		assert.Equal(t, i, item.Index)
	}
	assert.NoError(t, outcome.Items[0].Err)
	assert.Error(t, outcome.Items[1].Err)
	assert.NoError(t, outcome.Items[2].Err)
}

func TestPersistFallbackKeepsOrder(t *testing.T) {
	t.Parallel()

	s := &mockStorage{}
	var order []string
	s.On("InsertBatch", mock.Anything, mock.Anything).Return(nil, errors.New("batch rejected"))
	s.On("InsertOne", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		order = append(order, args.Get(1).(Record).RecordRowSourceIP)
	}).Return("id", nil)

	_, err := newTestCoordinator(s, nil).Persist(context.Background(), testRows("c", "a", "b"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, order)
}

func TestPersistNoRows(t *testing.T) {
	t.Parallel()

	s := &mockStorage{}
	outcome, err := newTestCoordinator(s, nil).Persist(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Succeeded)
	assert.Equal(t, 0, outcome.Failed)
	s.AssertNotCalled(t, "InsertBatch", mock.Anything, mock.Anything)
}

func TestPersistSourceDNS(t *testing.T) {
	t.Parallel()

	s := &mockStorage{}
	resolver := staticResolver{"10.0.0.1": {"mail.example.com"}}
	s.On("InsertBatch", mock.Anything, mock.MatchedBy(func(records []Record) bool {
		return len(records) == 2 &&
			assert.ObjectsAreEqual([]string{"mail.example.com"}, records[0].SourceDNS) &&
			assert.ObjectsAreEqual([]string{}, records[1].SourceDNS) &&
			records[0].AttachmentURL == ""
	})).Return([]string{"1", "2"}, nil)

	_, err := newTestCoordinator(s, resolver).Persist(context.Background(), testRows("10.0.0.1", "10.0.0.9"), nil)
	require.NoError(t, err)
	s.AssertExpectations(t)
}
