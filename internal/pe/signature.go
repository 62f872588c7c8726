package pe

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// SignatureInfo contains PE signature information.
type SignatureInfo struct {
	Revision        uint16
	CertificateType uint16
	Certificates    []CertificateInfo
	DigestAlgorithm string
}

// CertificateInfo contains information about a certificate in the signature chain.
type CertificateInfo struct {
	Subject      string
	Issuer       string
	SerialNumber string
	NotBefore    time.Time
	NotAfter     time.Time
	IsValid      bool
}

// WIN_CERTIFICATE structure.
type winCertificate struct {
	Length          uint32
	Revision        uint16
	CertificateType uint16
	// Certificate data follows
}

const winCertificateSize = 8

// maxCertificateSize bounds the certificate blob read into memory.
const maxCertificateSize = 16 << 20

// PE signature constants (Windows SDK naming convention).
//
//nolint:revive // ALL_CAPS matches Windows SDK naming
const (
	WIN_CERT_REVISION_2_0          = 0x0200
	WIN_CERT_TYPE_PKCS_SIGNED_DATA = 0x0002
)

// Signature reads the first Authenticode certificate. It returns nil when
// the image carries no certificate table or its header is unreadable. The
// table is addressed by file offset and is not mapped into memory, so
// virtual images never report one. Certificates are filled in only when the
// PKCS#7 blob parses.
func (img *Image) Signature() *SignatureInfo {
	img.checkOpen()
	dir := img.Directory(DirectorySecurity)
	if dir.IsEmpty() || img.opts.IsVirtual {
		return nil
	}

	// Security Directory uses file offset, not RVA
	offset := int64(uint32(dir.VirtualAddress))
	log := img.log.WithField("offset", offset)

	var hdr [winCertificateSize]byte
	if img.readRaw(offset, hdr[:]) != len(hdr) {
		log.Debug("pe: unreadable certificate header")
		return nil
	}
	var cert winCertificate
	if _, err := binary.Decode(hdr[:], binary.LittleEndian, &cert); err != nil {
		return nil
	}
	info := &SignatureInfo{Revision: cert.Revision, CertificateType: cert.CertificateType}

	if cert.Revision != WIN_CERT_REVISION_2_0 || cert.CertificateType != WIN_CERT_TYPE_PKCS_SIGNED_DATA {
		log.WithField("type", cert.CertificateType).Debug("pe: unsupported certificate type")
		return info
	}
	if cert.Length < winCertificateSize || cert.Length > uint32(dir.Size) || cert.Length > maxCertificateSize {
		log.WithField("length", cert.Length).Debug("pe: bad certificate length")
		return info
	}

	// Read certificate data (PKCS#7)
	certData := make([]byte, cert.Length-winCertificateSize)
	if img.readRaw(offset+winCertificateSize, certData) != len(certData) {
		log.Debug("pe: truncated certificate data")
		return info
	}

	if err := parsePKCS7(certData, info); err != nil {
		log.WithError(errors.Wrap(err, "解析PKCS#7签名失败")).Debug("pe: bad PKCS#7 blob")
	}
	return info
}

// PKCS#7 ContentInfo structure.
type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// PKCS#7 SignedData structure (simplified).
type signedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	ContentInfo      contentInfo
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	SignerInfos      asn1.RawValue
}

func parsePKCS7(data []byte, info *SignatureInfo) error {
	var content contentInfo
	if _, err := asn1.Unmarshal(data, &content); err != nil {
		return err
	}

	var signed signedData
	if _, err := asn1.Unmarshal(content.Content.Bytes, &signed); err != nil {
		return err
	}

	if len(signed.DigestAlgorithms) > 0 {
		info.DigestAlgorithm = signed.DigestAlgorithms[0].Algorithm.String()
	}

	if signed.Certificates.Bytes == nil {
		return nil
	}
	certs, err := x509.ParseCertificates(signed.Certificates.Bytes)
	if err != nil {
		return nil
	}
	now := time.Now()
	for _, cert := range certs {
		info.Certificates = append(info.Certificates, CertificateInfo{
			Subject:      cert.Subject.String(),
			Issuer:       cert.Issuer.String(),
			SerialNumber: fmt.Sprintf("%X", cert.SerialNumber),
			NotBefore:    cert.NotBefore,
			NotAfter:     cert.NotAfter,
			IsValid:      now.After(cert.NotBefore) && now.Before(cert.NotAfter),
		})
	}
	return nil
}
