package probe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewResolver_Defaults(t *testing.T) {
	r := NewResolver(0, "127.0.0.1:5353")
	assert.Equal(t, defaultResolveTimeout, r.Timeout)
	assert.Equal(t, "127.0.0.1:5353", r.Server)
}

func TestReverseQuery_InvalidIP(t *testing.T) {
	r := NewResolver(100*time.Millisecond, "127.0.0.1:1")
	assert.Empty(t, r.reverseQuery("not-an-ip"))
}

func TestReverseQuery_UnreachableServer(t *testing.T) {
	r := NewResolver(100*time.Millisecond, "127.0.0.1:1")
	assert.Empty(t, r.reverseQuery("192.168.1.1"))
}

func TestNewMDNSBrowser_Defaults(t *testing.T) {
	b := NewMDNSBrowser(0)
	assert.Equal(t, defaultMDNSTimeout, b.Timeout)
}

func TestCleanInstanceName(t *testing.T) {
	assert.Equal(t, "Brother HL-2270DW", cleanInstanceName("Brother HL-2270DW @ printserver"))
	assert.Equal(t, "macbook", cleanInstanceName("macbook"))
	assert.Empty(t, cleanInstanceName(""))
}
