package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/internal/pharmacyresponses"
	"github.com/rxdispatch/rxdispatch-backend/internal/prescriptions"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
	"github.com/rxdispatch/rxdispatch-backend/pkg/pagination"
)

type stubPrescriptionService struct {
	dto      *prescriptions.PrescriptionDTO
	err      error
	gotImage prescriptions.Image
	medicine string
	strength string
	params   pagination.Params
}

func (s *stubPrescriptionService) CreateUpload(ctx context.Context, p identity.Principal, img prescriptions.Image) (*prescriptions.PrescriptionDTO, error) {
	s.gotImage = img
	return s.dto, s.err
}

func (s *stubPrescriptionService) CreateSearchRequest(ctx context.Context, p identity.Principal, medicine, strength string) (*prescriptions.PrescriptionDTO, error) {
	s.medicine, s.strength = medicine, strength
	return s.dto, s.err
}

func (s *stubPrescriptionService) Get(ctx context.Context, p identity.Principal, id uuid.UUID) (*prescriptions.PrescriptionDTO, error) {
	return s.dto, s.err
}

func (s *stubPrescriptionService) ListMine(ctx context.Context, p identity.Principal, params pagination.Params) (pagination.Page[prescriptions.PrescriptionDTO], error) {
	s.params = params
	if s.err != nil {
		return pagination.Page[prescriptions.PrescriptionDTO]{}, s.err
	}
	return pagination.Page[prescriptions.PrescriptionDTO]{Items: []prescriptions.PrescriptionDTO{*s.dto}}, nil
}

type stubOfferLister struct {
	offers []pharmacyresponses.ResponseDTO
	err    error
}

func (s stubOfferLister) ListConfirmedOffers(ctx context.Context, p identity.Principal, id uuid.UUID) ([]pharmacyresponses.ResponseDTO, error) {
	return s.offers, s.err
}

func multipartImage(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, "scan.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestPrescriptionUploadPassesImageBytes(t *testing.T) {
	svc := &stubPrescriptionService{dto: &prescriptions.PrescriptionDTO{ID: uuid.New(), Status: enums.PrescriptionStatusPending}}
	body, contentType := multipartImage(t, "image", []byte("\x89PNG\r\n\x1a\nrest"))

	req := newRequest(http.MethodPost, "/api/v1/prescriptions/upload", body, principalOf(enums.UserRolePatient), nil)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	PrescriptionUpload(svc, 1<<20, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.gotImage.Filename != "scan.png" || !bytes.HasPrefix(svc.gotImage.Data, []byte("\x89PNG")) {
		t.Fatalf("unexpected image forwarded: %q", svc.gotImage.Filename)
	}
}

func TestPrescriptionUploadRequiresImagePart(t *testing.T) {
	svc := &stubPrescriptionService{}
	body, contentType := multipartImage(t, "document", []byte("data"))

	req := newRequest(http.MethodPost, "/api/v1/prescriptions/upload", body, principalOf(enums.UserRolePatient), nil)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	PrescriptionUpload(svc, 1<<20, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestPrescriptionUploadTruncatesAtCeiling(t *testing.T) {
	svc := &stubPrescriptionService{dto: &prescriptions.PrescriptionDTO{ID: uuid.New()}}
	body, contentType := multipartImage(t, "image", bytes.Repeat([]byte{1}, 64))

	req := newRequest(http.MethodPost, "/api/v1/prescriptions/upload", body, principalOf(enums.UserRolePatient), nil)
	req.Header.Set("Content-Type", contentType)
	PrescriptionUpload(svc, 16, nil).ServeHTTP(httptest.NewRecorder(), req)

	if len(svc.gotImage.Data) != 17 {
		t.Fatalf("expected ceiling+1 bytes forwarded, got %d", len(svc.gotImage.Data))
	}
}

func TestPrescriptionSearchRequestValidation(t *testing.T) {
	svc := &stubPrescriptionService{dto: &prescriptions.PrescriptionDTO{ID: uuid.New()}}

	cases := []struct {
		name string
		body string
		want int
	}{
		{"missing medicine", `{"strength":"500mg"}`, http.StatusBadRequest},
		{"blank medicine", `{"medicine_name":"   "}`, http.StatusBadRequest},
		{"unknown field", `{"medicine_name":"Amoxicillin","dose":"x"}`, http.StatusBadRequest},
		{"valid", `{"medicine_name":" Amoxicillin ","strength":"500mg"}`, http.StatusCreated},
	}
	for _, tc := range cases {
		req := newRequest(http.MethodPost, "/api/v1/prescriptions/search", strings.NewReader(tc.body), principalOf(enums.UserRolePatient), nil)
		rec := httptest.NewRecorder()
		PrescriptionSearchRequest(svc, nil).ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d got %d", tc.name, tc.want, rec.Code)
		}
	}
	if svc.medicine != "Amoxicillin" || svc.strength != "500mg" {
		t.Fatalf("expected trimmed input, got %q %q", svc.medicine, svc.strength)
	}
}

func TestPrescriptionListMineParsesPagination(t *testing.T) {
	svc := &stubPrescriptionService{dto: &prescriptions.PrescriptionDTO{ID: uuid.New()}}

	req := newRequest(http.MethodGet, "/api/v1/prescriptions?limit=5", nil, principalOf(enums.UserRolePatient), nil)
	rec := httptest.NewRecorder()
	PrescriptionListMine(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.params.Limit != 5 {
		t.Fatalf("expected limit 5 got %d", svc.params.Limit)
	}

	bad := newRequest(http.MethodGet, "/api/v1/prescriptions?limit=0", nil, principalOf(enums.UserRolePatient), nil)
	rec = httptest.NewRecorder()
	PrescriptionListMine(svc, nil).ServeHTTP(rec, bad)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for limit=0 got %d", rec.Code)
	}
}

func TestPrescriptionDetailRequiresPrincipal(t *testing.T) {
	svc := &stubPrescriptionService{dto: &prescriptions.PrescriptionDTO{ID: uuid.New()}}

	req := newRequest(http.MethodGet, "/api/v1/prescriptions/x", nil, identity.Principal{}, map[string]string{"prescriptionId": uuid.NewString()})
	rec := httptest.NewRecorder()
	PrescriptionDetail(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestPrescriptionDetailNotFound(t *testing.T) {
	svc := &stubPrescriptionService{err: pkgerrors.New(pkgerrors.CodeNotFound, "prescription not found")}
	id := uuid.New()

	req := newRequest(http.MethodGet, "/api/v1/prescriptions/"+id.String(), nil, principalOf(enums.UserRolePatient), map[string]string{"prescriptionId": id.String()})
	rec := httptest.NewRecorder()
	PrescriptionDetail(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != string(pkgerrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND got %s", code)
	}
}

func TestPrescriptionOffersEnvelope(t *testing.T) {
	id := uuid.New()
	offers := []pharmacyresponses.ResponseDTO{{ID: uuid.New(), PrescriptionID: id, HasStock: true}}

	req := newRequest(http.MethodGet, "/", nil, principalOf(enums.UserRolePatient), map[string]string{"prescriptionId": id.String()})
	rec := httptest.NewRecorder()
	PrescriptionOffers(stubOfferLister{offers: offers}, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var envelope struct {
		Data struct {
			Items []pharmacyresponses.ResponseDTO `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelope.Data.Items) != 1 || envelope.Data.Items[0].PrescriptionID != id {
		t.Fatalf("unexpected offers %+v", envelope.Data.Items)
	}
}
