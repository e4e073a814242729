package dedicated_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/centraunit/dedicated"
	"github.com/centraunit/dedicated/mock"
)

type ConcurrentTestSuite struct {
	suite.Suite
}

func (s *ConcurrentTestSuite) TestConcurrentFirstResolution() {
	gate := make(chan struct{})
	connector := &mock.Connector{Gate: gate}
	r, err := dedicated.NewResolver(baseConfig, connector,
		dedicated.WithEnvironment(dedicated.MapEnvironment{}))
	s.Require().NoError(err)

	const workers = 20
	handles := make(chan dedicated.Handle, workers)
	var started, wg sync.WaitGroup
	started.Add(workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			h, err := r.Resolve(context.Background(), "reports")
			s.NoError(err)
			handles <- h
		}()
	}
	started.Wait()
	close(gate)
	wg.Wait()
	close(handles)

	var first dedicated.Handle
	for h := range handles {
		if first == nil {
			first = h
		}
		s.Same(first, h)
	}
	s.Len(connector.Handles(), 1)
	s.Len(r.Connections(), 1)
}

func (s *ConcurrentTestSuite) TestConcurrentScopes() {
	r, err := dedicated.NewResolver(baseConfig, &mock.Connector{},
		dedicated.WithEnvironment(dedicated.MapEnvironment{}),
		dedicated.WithScopes(dedicated.ContextScopes{}))
	s.Require().NoError(err)

	const scopes = 10
	var wg sync.WaitGroup
	for i := 0; i < scopes; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			scope := dedicated.NewScopeContext(context.Background(), fmt.Sprintf("req-%d", id))
			defer scope.End()
			for _, ch := range []string{"reports", "audit"} {
				h, err := r.Resolve(scope, ch)
				s.NoError(err)
				again, err := r.Resolve(scope, ch)
				s.NoError(err)
				s.Same(h, again)
			}
		}(i)
	}
	wg.Wait()

	s.Empty(r.Connections())
}

func (s *ConcurrentTestSuite) TestConcurrentCloseAndResolve() {
	r, err := dedicated.NewResolver(baseConfig, &mock.Connector{},
		dedicated.WithEnvironment(dedicated.MapEnvironment{}))
	s.Require().NoError(err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), "reports")
			s.NoError(err)
		}()
		go func() {
			defer wg.Done()
			s.NoError(r.CloseAll())
		}()
	}
	wg.Wait()

	s.NoError(r.CloseAll())
	s.Empty(r.Connections())
}

func TestConcurrentSuite(t *testing.T) {
	suite.Run(t, new(ConcurrentTestSuite))
}
