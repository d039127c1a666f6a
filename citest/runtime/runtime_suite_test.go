package runtime_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRuntimeSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Session Runtime Suite")
}
