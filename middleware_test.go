package dedicated_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/centraunit/dedicated"
	"github.com/centraunit/dedicated/mock"
)

type HTTPTestSuite struct {
	suite.Suite
	resolver *dedicated.Resolver
}

func (s *HTTPTestSuite) SetupTest() {
	r, err := dedicated.NewResolver(baseConfig, &mock.Connector{},
		dedicated.WithEnvironment(dedicated.MapEnvironment{}),
		dedicated.WithScopes(dedicated.ContextScopes{}))
	s.Require().NoError(err)
	s.resolver = r
}

func (s *HTTPTestSuite) serve(handler http.Handler, requestID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/report", nil)
	if requestID != "" {
		req.Header.Set(dedicated.RequestIDHeader, requestID)
	}
	rec := httptest.NewRecorder()
	dedicated.ScopeMiddleware(handler).ServeHTTP(rec, req)
	return rec
}

func (s *HTTPTestSuite) TestRequestScopeLifecycle() {
	var resolved dedicated.Handle
	var key string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, err := s.resolver.Resolve(r.Context(), "reports")
		s.NoError(err)
		again, err := s.resolver.Resolve(r.Context(), "reports")
		s.NoError(err)
		s.Same(h, again)

		resolved = h
		key = s.resolver.ScopeKey(r.Context(), "reports")
		s.True(s.resolver.HasLiveConnection(key))
		w.WriteHeader(http.StatusOK)
	})

	rec := s.serve(handler, "req-1")

	s.Equal(http.StatusOK, rec.Code)
	s.True(strings.HasSuffix(key, "/req-1:reports"), "key %q must carry the request id", key)
	s.False(s.resolver.HasLiveConnection(key), "connection must be released with the request")
	s.True(resolved.(*mock.Handle).Closed())
}

func (s *HTTPTestSuite) TestRequestsDoNotShareConnections() {
	var handles []dedicated.Handle
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, err := s.resolver.Resolve(r.Context(), "reports")
		s.NoError(err)
		handles = append(handles, h)
	})

	s.serve(handler, "req-1")
	s.serve(handler, "req-2")

	s.Require().Len(handles, 2)
	s.NotSame(handles[0], handles[1])
	s.Empty(s.resolver.Connections())
}

func (s *HTTPTestSuite) TestOverlappingRequestsWithSameRequestID() {
	type request struct {
		resolved chan dedicated.Handle
		release  chan struct{}
		done     chan struct{}
	}
	newRequest := func() *request {
		return &request{
			resolved: make(chan dedicated.Handle, 1),
			release:  make(chan struct{}),
			done:     make(chan struct{}),
		}
	}
	start := func(req *request) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h, err := s.resolver.Resolve(r.Context(), "reports")
			s.NoError(err)
			req.resolved <- h
			<-req.release
		})
		go func() {
			defer close(req.done)
			s.serve(handler, "retry-123")
		}()
	}

	first, second := newRequest(), newRequest()
	start(first)
	firstHandle := <-first.resolved
	start(second)
	secondHandle := <-second.resolved

	s.NotSame(firstHandle, secondHandle)

	close(first.release)
	<-first.done
	s.True(firstHandle.(*mock.Handle).Closed())
	s.False(secondHandle.(*mock.Handle).Closed(), "second request is still serving")

	close(second.release)
	<-second.done
	s.True(secondHandle.(*mock.Handle).Closed())
	s.Empty(s.resolver.Connections())
}

func (s *HTTPTestSuite) TestScopeIDsAreUniquePerRequest() {
	var mu sync.Mutex
	seen := map[string]bool{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, ok := dedicated.ScopeFromContext(r.Context())
		s.True(ok)
		mu.Lock()
		seen[scope.ID()] = true
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		s.serve(handler, "retry-123")
	}

	s.Len(seen, 5)
}

func (s *HTTPTestSuite) TestGeneratedScopeID() {
	var scopeID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, ok := dedicated.ScopeFromContext(r.Context())
		s.True(ok)
		scopeID = scope.ID()
	})

	s.serve(handler, "")

	s.NotEmpty(scopeID)
	s.NotContains(scopeID, "/")
}

func TestHTTPSuite(t *testing.T) {
	suite.Run(t, new(HTTPTestSuite))
}
