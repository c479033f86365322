package core

/*
passgfw — verified endpoint discovery for filtered networks
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/x-stp/passgfw/internal/codec"
)

func listURL(k int) string {
	return fmt.Sprintf("https://lists.example.com/%d", k)
}

func newTestDispatcher(transport Transport, sleeper *sleepRecorder) *Dispatcher {
	return NewDispatcher(transport, &fakeCrypto{}, codec.New(), DefaultSettings(), sleeper.sleep, nil)
}

// chain serves lists 0..n-1 where list k names list k+1 and list n-1 names last.
func chain(transport *fakeTransport, n int, last string) {
	for k := 0; k < n-1; k++ {
		transport.serveList(listURL(k), FormatList([]string{listURL(k+1) + "#"}))
	}
	transport.serveList(listURL(n-1), FormatList([]string{last}))
}

func TestDispatcherRecursionBound(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	// Lists 0..MaxListDepth are fetched; the list they lead to sits at MaxListDepth+1.
	chain(transport, MaxListDepth+1, listURL(MaxListDepth+1)+"#")
	transport.serveList(listURL(MaxListDepth+1), FormatList([]string{"https://never.example.com/passgfw"}))
	sleeper := &sleepRecorder{}

	_, err := newTestDispatcher(transport, sleeper).Check(context.Background(), listURL(0)+"#", "", 0)
	require.Equal(t, KindAllSubEndpointsFailed, KindOf(err))
	require.ErrorIs(t, err, ErrRecursionLimitExceeded)

	for k := 0; k <= MaxListDepth; k++ {
		require.Equal(t, 1, transport.count("GET "+listURL(k)), "list %d", k)
	}
	require.Zero(t, transport.count("GET "+listURL(MaxListDepth+1)))
	require.Len(t, transport.requests(), MaxListDepth+1)
	require.Empty(t, sleeper.recorded())
}

func TestDispatcherDirectEndpointAtMaxDepth(t *testing.T) {
	t.Parallel()
	const direct = "https://deep.example.com/passgfw"
	transport := newFakeTransport()
	chain(transport, MaxListDepth, direct)
	transport.posts[direct] = responder(t, "deep.example.com", nil)

	domain, err := newTestDispatcher(transport, &sleepRecorder{}).Check(context.Background(), listURL(0)+"#", "", 0)
	require.NoError(t, err)
	require.Equal(t, "deep.example.com", domain)
	require.Equal(t, 1, transport.count("POST "+direct))
}

func TestDispatcherDirectEndpointPastMaxDepth(t *testing.T) {
	t.Parallel()
	const direct = "https://deep.example.com/passgfw"
	transport := newFakeTransport()
	chain(transport, MaxListDepth+1, direct)
	transport.posts[direct] = responder(t, "deep.example.com", nil)

	_, err := newTestDispatcher(transport, &sleepRecorder{}).Check(context.Background(), listURL(0)+"#", "", 0)
	require.ErrorIs(t, err, ErrRecursionLimitExceeded)
	require.Zero(t, transport.count("POST "+direct))
}

func TestDispatcherRejectsDepthBeforeAnyWork(t *testing.T) {
	t.Parallel()

	for _, endpoint := range []string{"https://a.example.com/passgfw", "https://a.example.com/list#"} {
		transport := newFakeTransport()
		sleeper := &sleepRecorder{}

		_, err := newTestDispatcher(transport, sleeper).Check(context.Background(), endpoint, "", MaxListDepth+1)
		require.ErrorIs(t, err, ErrRecursionLimitExceeded)
		require.Empty(t, transport.requests())
		require.Empty(t, sleeper.recorded())
	}
}

func TestDispatcherRetriesDirectEndpoints(t *testing.T) {
	t.Parallel()
	const bad = "https://bad.example.com/passgfw"
	transport := newFakeTransport()
	sleeper := &sleepRecorder{}

	_, err := newTestDispatcher(transport, sleeper).Check(context.Background(), bad, "", MaxListDepth)
	require.ErrorIs(t, err, ErrTransportFailed)
	require.Equal(t, MaxRetries, transport.count("POST "+bad))
	require.Equal(t, []time.Duration{RetryDelay, RetryDelay}, sleeper.recorded())
}

func TestListResolver(t *testing.T) {
	t.Parallel()
	const (
		bad  = "https://bad.example.com/passgfw"
		good = "https://good.example.com/passgfw"
	)

	t.Run("invalid list url", func(t *testing.T) {
		t.Parallel()
		transport := newFakeTransport()
		_, err := newTestDispatcher(transport, &sleepRecorder{}).Check(context.Background(), "#", "", 0)
		require.ErrorIs(t, err, ErrInvalidListURL)
		require.Empty(t, transport.requests())
	})

	t.Run("fetch failure", func(t *testing.T) {
		t.Parallel()
		transport := newFakeTransport()
		_, err := newTestDispatcher(transport, &sleepRecorder{}).Check(context.Background(), listURL(0)+"#", "", 0)
		require.ErrorIs(t, err, ErrTransportFailed)
		require.Contains(t, err.Error(), "connection refused")
	})

	t.Run("empty list", func(t *testing.T) {
		t.Parallel()
		transport := newFakeTransport()
		transport.serveList(listURL(0), "# nothing here\nftp://old.example.com\n")
		_, err := newTestDispatcher(transport, &sleepRecorder{}).Check(context.Background(), listURL(0)+"#", "", 0)
		require.ErrorIs(t, err, ErrListEmptyOrUnparsable)
	})

	t.Run("first working entry wins", func(t *testing.T) {
		t.Parallel()
		transport := newFakeTransport()
		transport.serveList(listURL(0), FormatList([]string{bad, good, "https://unused.example.com/passgfw"}))
		transport.posts[good] = responder(t, "final.example.com", nil)
		sleeper := &sleepRecorder{}

		domain, err := newTestDispatcher(transport, sleeper).Check(context.Background(), listURL(0)+"#", "", 0)
		require.NoError(t, err)
		require.Equal(t, "final.example.com", domain)
		require.Equal(t, MaxRetries, transport.count("POST "+bad))
		require.Zero(t, transport.count("POST https://unused.example.com/passgfw"))
		require.Equal(t, []time.Duration{RetryDelay, RetryDelay, URLInterval}, sleeper.recorded())
	})

	t.Run("html list", func(t *testing.T) {
		t.Parallel()
		transport := newFakeTransport()
		transport.lists[listURL(0)] = Response{
			Success:     true,
			StatusCode:  200,
			ContentType: "text/html; charset=utf-8",
			Body:        "<html><body><!-- *GFW*" + good + "*GFW* --><p>nothing to see</p></body></html>",
		}
		transport.posts[good] = responder(t, "final.example.com", nil)

		domain, err := newTestDispatcher(transport, &sleepRecorder{}).Check(context.Background(), listURL(0)+"#", "", 0)
		require.NoError(t, err)
		require.Equal(t, "final.example.com", domain)
	})

	t.Run("all entries fail", func(t *testing.T) {
		t.Parallel()
		const forbidden = "https://forbidden.example.com/passgfw"
		transport := newFakeTransport()
		transport.serveList(listURL(0), FormatList([]string{bad, forbidden}))
		transport.posts[forbidden] = func(string) Response {
			return Response{StatusCode: 403, Error: "HTTP error: 403"}
		}

		_, err := newTestDispatcher(transport, &sleepRecorder{}).Check(context.Background(), listURL(0)+"#", "", 0)
		require.Equal(t, KindAllSubEndpointsFailed, KindOf(err))
		require.ErrorIs(t, err, ErrTransportFailed)

		var outer *Error
		require.True(t, errors.As(err, &outer))
		var cause *Error
		require.True(t, errors.As(outer.Err, &cause))
		require.Equal(t, forbidden, cause.URL)
		require.Contains(t, cause.Error(), "HTTP error: 403")
	})

	t.Run("cancelled between entries", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		transport := newFakeTransport()
		transport.serveList(listURL(0), FormatList([]string{bad, good}))
		transport.posts[good] = responder(t, "final.example.com", nil)
		sleeper := &sleepRecorder{hook: func(d time.Duration) {
			if d == URLInterval {
				cancel()
			}
		}}

		_, err := newTestDispatcher(transport, sleeper).Check(ctx, listURL(0)+"#", "", 0)
		require.ErrorIs(t, err, context.Canceled)
		require.Zero(t, transport.count("POST "+good))
	})
}
