// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifacttest runs an in-memory S3-compatible object store for tests.
// It implements just the PutObject and GetObject wire surface the artifact
// store uses, with path-style addressing.
package artifacttest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Bucket is the bucket name the test server accepts.
const Bucket = "loom-test"

type object struct {
	body        []byte
	contentType string
}

// Server is the in-memory object store.
type Server struct {
	httpSrv *httptest.Server

	mu      sync.Mutex
	objects map[string]object
}

// NewServer starts the store. Callers own the Close.
func NewServer() *Server {
	s := &Server{objects: make(map[string]object)}
	s.httpSrv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Close shuts the backing HTTP server down.
func (s *Server) Close() { s.httpSrv.Close() }

// URL returns the endpoint to point an S3 client at.
func (s *Server) URL() string { return s.httpSrv.URL }

// Keys returns the stored object keys, bucket prefix stripped.
func (s *Server) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	return keys
}

// Client builds an S3 client wired to this server.
func (s *Server) Client() *s3.Client {
	return s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(s.URL()),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider("test", "test", ""),
		// The fake store does not understand checksum trailers.
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	// Path-style addressing: /{bucket}/{key...}.
	trimmed := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, ok := strings.Cut(trimmed, "/")
	if !ok || bucket != Bucket || key == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read failed", http.StatusInternalServerError)
			return
		}
		s.mu.Lock()
		s.objects[key] = object{body: body, contentType: r.Header.Get("Content-Type")}
		s.mu.Unlock()
		w.Header().Set("ETag", `"test"`)
		w.WriteHeader(http.StatusOK)

	case http.MethodGet:
		s.mu.Lock()
		obj, found := s.objects[key]
		s.mu.Unlock()
		if !found {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
			return
		}
		if obj.contentType != "" {
			w.Header().Set("Content-Type", obj.contentType)
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.body)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(obj.body)

	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}
