package gssapi

import (
	"context"
	"encoding/asn1"
	"encoding/binary"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/gssapi"
	"github.com/jcmturner/gokrb5/v8/iana/chksumtype"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/3dna/kafka/sasl"
)

// https://tools.ietf.org/html/rfc4121#section-4.1
const tokIDKrbAPReq = "\x01\x00"

type mechanism struct {
	client      *client.Client
	serviceName string
	host        string
}

func (m mechanism) Name() string {
	return "GSSAPI"
}

// Mechanism uses gokrb5/v8 to implement the GSSAPI mechanism.
//
// krbClient is a github.com/jcmturner/gokrb5/v8/client *Client instance,
// already logged in against the KDC. kafkaServiceName is the name of the
// kafka service in the Kerberos realm (usually "kafka").
func Mechanism(krbClient *client.Client, kafkaServiceName string) sasl.Mechanism {
	return mechanism{krbClient, kafkaServiceName, ""}
}

// WithHost fulfills the optional sasl.NeedsHost interface: the service
// principal is derived from the broker host being dialed.
func (m mechanism) WithHost(host string) sasl.Mechanism {
	m.host = host
	return m
}

// StartWithoutHostError is returned when Start is called before the dialer
// provided the broker host through WithHost.
type StartWithoutHostError struct{}

func (e StartWithoutHostError) Error() string {
	return "GSSAPI SASL handshake needs a host"
}

func (m mechanism) Start(ctx context.Context) (sasl.StateMachine, []byte, error) {
	if m.host == "" {
		return nil, nil, StartWithoutHostError{}
	}

	servicePrincipalName := m.serviceName + "/" + m.host
	ticket, key, err := m.client.GetServiceTicket(servicePrincipalName)
	if err != nil {
		return nil, nil, err
	}

	authenticator, err := types.NewAuthenticator(
		m.client.Credentials.Realm(),
		m.client.Credentials.CName(),
	)
	if err != nil {
		return nil, nil, err
	}

	encryptionType, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return nil, nil, err
	}

	keySize := encryptionType.GetKeyByteSize()
	if err := authenticator.GenerateSeqNumberAndSubKey(key.KeyType, keySize); err != nil {
		return nil, nil, err
	}

	authenticator.Cksum = types.Checksum{
		CksumType: chksumtype.GSSAPI,
		Checksum:  authenticatorPseudoChecksum(),
	}
	apReq, err := messages.NewAPReq(ticket, key, authenticator)
	if err != nil {
		return nil, nil, err
	}

	reqBytes, err := apReq.Marshal()
	if err != nil {
		return nil, nil, err
	}

	withPrefix := make([]byte, 0, len(tokIDKrbAPReq)+len(reqBytes))
	withPrefix = append(withPrefix, tokIDKrbAPReq...)
	withPrefix = append(withPrefix, reqBytes...)

	token, err := prependGSSAPITokenTag(withPrefix)
	if err != nil {
		return nil, nil, err
	}

	return &session{key: authenticator.SubKey}, token, nil
}

// authenticatorPseudoChecksum builds the RFC 4121 §4.1.1 channel binding
// structure that goes in the authenticator's checksum field: 16 blank bytes
// of channel bindings plus the context flags, of which only integrity is
// requested (https://tools.ietf.org/html/rfc4752#section-3.1).
func authenticatorPseudoChecksum() []byte {
	checksum := make([]byte, 24)
	binary.LittleEndian.PutUint32(checksum[0:4], 16)
	binary.LittleEndian.PutUint32(checksum[20:24], uint32(gssapi.ContextFlagInteg))
	return checksum
}

type gssapiToken struct {
	OID    asn1.ObjectIdentifier
	Object asn1.RawValue
}

// prependGSSAPITokenTag wraps the payload in the almost-ASN.1 framing of
// https://tools.ietf.org/html/rfc2743#page-81 (section 3.1): the token
// object is raw bytes, not necessarily ASN.1.
func prependGSSAPITokenTag(payload []byte) ([]byte, error) {
	token := gssapiToken{
		OID:    asn1.ObjectIdentifier(gssapi.OIDKRB5.OID()),
		Object: asn1.RawValue{FullBytes: payload},
	}
	return asn1.MarshalWithParams(token, "application")
}

type session struct {
	key  types.EncryptionKey
	done bool
}

func (s *session) Next(ctx context.Context, challenge []byte) (bool, []byte, error) {
	if s.done {
		return true, nil, nil
	}

	const tokenIsFromGSSAcceptor = true
	challengeToken := gssapi.WrapToken{}
	if err := challengeToken.Unmarshal(challenge, tokenIsFromGSSAcceptor); err != nil {
		return false, nil, err
	}

	valid, err := challengeToken.Verify(s.key, keyusage.GSSAPI_ACCEPTOR_SEAL)
	if !valid {
		return false, nil, err
	}

	responseToken, err := gssapi.NewInitiatorWrapToken(challengeToken.Payload, s.key)
	if err != nil {
		return false, nil, err
	}

	response, err := responseToken.Marshal()
	if err != nil {
		return false, nil, err
	}

	// Not done yet from the SASL loop's point of view: the loop needs done to
	// be false whenever there are response bytes left to send.
	s.done = true
	return false, response, nil
}
