package otr

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	logging "gopkg.in/op/go-logging.v1"
)

func TestSetLogBackendRoutesComponentLoggers(t *testing.T) {
	var buf bytes.Buffer
	SetLogBackend(logging.NewLogBackend(&buf, "", 0), logging.DEBUG)
	defer SetLogBackend(logging.NewLogBackend(&bytes.Buffer{}, "", 0), logging.NOTICE)

	logger := getLogger("otr/test")
	logger.Warning("something happened")

	assert.Contains(t, buf.String(), "otr/test")
	assert.Contains(t, buf.String(), "something happened")
}

func TestSetLogBackendRespectsMinimumLevel(t *testing.T) {
	var buf bytes.Buffer
	SetLogBackend(logging.NewLogBackend(&buf, "", 0), logging.WARNING)
	defer SetLogBackend(logging.NewLogBackend(&bytes.Buffer{}, "", 0), logging.NOTICE)

	logger := getLogger("otr/test")
	logger.Debug("should be filtered out")
	logger.Error("should appear")

	assert.NotContains(t, buf.String(), "should be filtered out")
	assert.Contains(t, buf.String(), "should appear")
}

func TestPackageLoggersAreDistinctModules(t *testing.T) {
	assert.NotNil(t, logDispatch)
	assert.NotNil(t, logAKE)
	assert.NotNil(t, logSMP)
	assert.NotNil(t, logSession)

	modules := map[string]bool{
		logDispatch.Module: true, logAKE.Module: true, logSMP.Module: true, logSession.Module: true,
	}
	assert.Len(t, modules, 4)
}
