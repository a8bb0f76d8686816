package vk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

const wallJSON = `{"response":{"items":[
 {"attachments":[
   {"type":"photo","photo":{"sizes":[{"width":130,"url":"a-s"},{"width":1280,"url":"a-x"},{"width":604,"url":"a-m"}]}},
   {"type":"video","video":{}}
 ]},
 {"attachments":[]},
 {"attachments":[
   {"type":"photo","photo":{"sizes":[{"width":75,"url":"b-s"}]}},
   {"type":"photo","photo":{"sizes":[{"width":807,"url":"c-y"},{"width":2560,"url":"c-w"}]}}
 ]}
]}}`

func TestLatestPhotos(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/wall.get" || q.Get("owner_id") != "-42" || q.Get("count") != "40" || q.Get("v") != DefaultVersion || q.Get("access_token") != "tok" {
			http.Error(w, "bad request "+r.URL.String(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(wallJSON))
	}))
	defer srv.Close()

	c := New("tok", "", WithBaseURL(srv.URL+"/"))

	tests := []struct {
		count int
		want  []string
	}{
		{count: 10, want: []string{"a-x", "b-s", "c-w"}},
		{count: 2, want: []string{"a-x", "b-s"}},
		{count: 0, want: nil},
	}
	for _, tt := range tests {
		got, err := c.LatestPhotos(context.Background(), -42, tt.count)
		if err != nil {
			t.Fatalf("LatestPhotos(%d) err = %v", tt.count, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("LatestPhotos(%d) = %v, want %v", tt.count, got, tt.want)
		}
	}
}

func TestLatestPhotosAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"error_code":15,"error_msg":"Access denied"}}`))
	}))
	defer srv.Close()

	_, err := New("tok", "5.131", WithBaseURL(srv.URL)).LatestPhotos(context.Background(), -1, 10)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 15 {
		t.Fatalf("LatestPhotos() err = %v, want APIError 15", err)
	}
}
