package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Network error classes recorded in result details.
const (
	classTimeout         = "timeout"
	classDNSNotFound     = "dns_not_found"
	classConnRefused     = "connection_refused"
	classHostUnreachable = "host_unreachable"
	classCertExpired     = "certificate_expired"
	classCertSelfSigned  = "certificate_self_signed"
	classCertUntrusted   = "certificate_untrusted"
	classCertHostname    = "certificate_hostname_mismatch"
	classTLSHandshake    = "tls_handshake_failed"
	classOther           = "network_error"
)

// classifyNetError maps a transport error to a result status and an error
// class. Deadline and timeout errors are the only ones reported as timeout;
// everything else is an observed down.
func classifyNetError(err error) (status, class string) {
	if err == nil {
		return StatusUp, ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout, classTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusTimeout, classTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return StatusTimeout, classTimeout
		}
		return StatusDown, classDNSNotFound
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return StatusDown, classConnRefused
	}
	if errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return StatusDown, classHostUnreachable
	}

	var certInvalid x509.CertificateInvalidError
	if errors.As(err, &certInvalid) {
		if certInvalid.Reason == x509.Expired {
			return StatusDown, classCertExpired
		}
		return StatusDown, classCertUntrusted
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		if unknownAuthority.Cert != nil && isSelfSigned(unknownAuthority.Cert) {
			return StatusDown, classCertSelfSigned
		}
		return StatusDown, classCertUntrusted
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return StatusDown, classCertHostname
	}
	var recordHeaderErr tls.RecordHeaderError
	if errors.As(err, &recordHeaderErr) {
		return StatusDown, classTLSHandshake
	}
	if strings.Contains(err.Error(), "tls:") || strings.Contains(err.Error(), "handshake failure") {
		return StatusDown, classTLSHandshake
	}

	return StatusDown, classOther
}

func isSelfSigned(cert *x509.Certificate) bool {
	return cert.Subject.String() == cert.Issuer.String()
}
