package kernel

import "testing"

func TestExitCodeMapsSuccessAndUndefinedToZero(t *testing.T) {
	if Success.ExitCode() != 0 {
		t.Fatal("Success should exit 0")
	}
	if Undefined.ExitCode() != 0 {
		t.Fatal("Undefined should exit 0")
	}
}

func TestExitCodeMapsErrorsToNonZero(t *testing.T) {
	for _, r := range []Result{EndpointNotConnected, NoUpstreamAvailable, NoPrincipalFound, Error} {
		if r.ExitCode() == 0 {
			t.Fatalf("%v should not exit 0", r)
		}
	}
}

func TestIsRoot(t *testing.T) {
	var b Base
	if !b.IsRoot() {
		t.Fatal("kernel with no parent or principal should be root")
	}
}
