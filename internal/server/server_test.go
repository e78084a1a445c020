package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/firefart/dmarcingest/internal/dmarc"
	"github.com/firefart/dmarcingest/internal/pipeline"
	"github.com/firefart/dmarcingest/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) ProcessMessage(ctx context.Context, r io.Reader) (*pipeline.MessageResult, error) {
	b, _ := io.ReadAll(r)
	args := m.Called(ctx, string(b))
	res, _ := args.Get(0).(*pipeline.MessageResult)
	return res, args.Error(1)
}

func (m *mockProcessor) ProcessReport(ctx context.Context, att dmarc.RawAttachment) (*pipeline.ReportResult, error) {
	args := m.Called(ctx, att)
	res, _ := args.Get(0).(*pipeline.ReportResult)
	return res, args.Error(1)
}

type mockQuerier struct {
	mock.Mock
}

func (m *mockQuerier) Query(ctx context.Context, filter store.Filter, limit int) ([]store.Record, error) {
	args := m.Called(ctx, filter, limit)
	records, _ := args.Get(0).([]store.Record)
	return records, args.Error(1)
}

func testServer(p Processor, q Querier) http.Handler {
	return New(p, q, 1024*1024, slog.New(slog.NewTextHandler(io.Discard, nil))).Routes()
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	testServer(&mockProcessor{}, &mockQuerier{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestPostReport(t *testing.T) {
	t.Parallel()

	p := &mockProcessor{}
	p.On("ProcessMessage", mock.Anything, "raw email").Return(&pipeline.MessageResult{
		Report: &pipeline.ReportResult{
			Filename: "report.xml.gz",
			ReportID: "r_1",
			Rows:     2,
			Outcome:  &store.Outcome{Succeeded: 2, InsertedIDs: []string{"a", "b"}},
		},
	}, nil)

	rec := httptest.NewRecorder()
	testServer(p, &mockQuerier{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reports", strings.NewReader("raw email")))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp reportResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Succeeded)
	assert.Equal(t, []string{"a", "b"}, resp.InsertedIDs)
	assert.Equal(t, "r_1", resp.ReportID)
}

func TestPostReportPartial(t *testing.T) {
	t.Parallel()

	p := &mockProcessor{}
	p.On("ProcessMessage", mock.Anything, mock.Anything).Return(&pipeline.MessageResult{
		Report: &pipeline.ReportResult{Rows: 2, Outcome: &store.Outcome{Succeeded: 1, Failed: 1, InsertedIDs: []string{"a"}}},
	}, nil)

	rec := httptest.NewRecorder()
	testServer(p, &mockQuerier{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reports", strings.NewReader("x")))
	assert.Equal(t, http.StatusMultiStatus, rec.Code)
}

func TestPostReportErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err    error
		status int
	}{
		{pipeline.ErrNoAttachments, http.StatusBadRequest},
		{&dmarc.UnsupportedFormatError{Extension: "pdf"}, http.StatusUnsupportedMediaType},
		{dmarc.ErrEmptyArchive, http.StatusUnprocessableEntity},
		{&dmarc.InvalidReportStructureError{Missing: "feedback"}, http.StatusUnprocessableEntity},
		{&store.AllInsertsFailedError{Rows: 1}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		p := &mockProcessor{}
		p.On("ProcessMessage", mock.Anything, mock.Anything).Return(nil, tc.err)

		rec := httptest.NewRecorder()
		testServer(p, &mockQuerier{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reports", strings.NewReader("x")))
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())

		var resp errorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.NotEmpty(t, resp.Error)
	}
}

func TestPostAttachment(t *testing.T) {
	t.Parallel()

	p := &mockProcessor{}
	p.On("ProcessReport", mock.Anything, dmarc.RawAttachment{
		Filename: "report.xml",
		MIMEType: "text/xml",
		Content:  []byte("<feedback/>"),
	}).Return(&pipeline.ReportResult{Rows: 1, Outcome: &store.Outcome{Succeeded: 1, InsertedIDs: []string{"a"}}}, nil)

	req := httptest.NewRequest(http.MethodPost, "/attachments?filename=report.xml", strings.NewReader("<feedback/>"))
	req.Header.Set("Content-Type", "text/xml")
	rec := httptest.NewRecorder()
	testServer(p, &mockQuerier{}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	p.AssertExpectations(t)
}

func TestGetRecords(t *testing.T) {
	t.Parallel()

	q := &mockQuerier{}
	q.On("Query", mock.Anything, store.Filter{Domain: "example.com"}, 10).Return([]store.Record{
		{ID: "a", Row: dmarc.Row{PolicyPublishedDomain: "example.com"}},
	}, nil)

	rec := httptest.NewRecorder()
	testServer(&mockProcessor{}, q).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/records?domain=example.com&limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var records []map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0]["_id"])
	assert.Equal(t, "example.com", records[0]["policyPublishedDomain"])
}

func TestGetRecordsInvalidLimit(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	testServer(&mockProcessor{}, &mockQuerier{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/records?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
