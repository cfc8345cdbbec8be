package abuse_test

import (
	"testing"

	"github.com/jrsteele09/go-pairing-server/abuse"
	"github.com/jrsteele09/go-pairing-server/abuse/abusetest"
)

func TestInMemoryAttemptRepo(t *testing.T) {
	abusetest.RunAttemptRepoTests(t, func(t *testing.T) abuse.AttemptRepo {
		return abuse.NewInMemoryAttemptRepo()
	})
}
