package scram

import (
	"context"
	"crypto/sha512"
	"hash"

	"github.com/pkg/errors"
	"github.com/xdg/scram"

	"github.com/3dna/kafka/sasl"
)

// HashFunction determines the hash function used by SCRAM to protect the
// user's credentials.
type HashFunction int

const (
	_ HashFunction = iota
	SHA256
	SHA512
)

func (a HashFunction) name() string {
	switch a {
	case SHA256:
		return "SCRAM-SHA-256"
	case SHA512:
		return "SCRAM-SHA-512"
	}
	return "invalid"
}

func (a HashFunction) hashGenerator() scram.HashGeneratorFcn {
	switch a {
	case SHA256:
		return scram.SHA256
	case SHA512:
		// for whatever reason, the scram package doesn't have a predefined
		// constant for 512, but we can roll our own.
		return scram.HashGeneratorFcn(func() hash.Hash {
			return sha512.New()
		})
	}
	return nil
}

type mechanism struct {
	hash   HashFunction
	client *scram.Client
}

type session struct {
	convo *scram.ClientConversation
}

// Mechanism returns a new sasl.Mechanism that will use SCRAM with the
// provided hash function to securely transmit the provided credentials to
// Kafka.
func Mechanism(hashf HashFunction, username, password string) (sasl.Mechanism, error) {
	hashGen := hashf.hashGenerator()
	if hashGen == nil {
		return nil, errors.New("invalid hash function")
	}

	client, err := hashGen.NewClient(username, password, "")
	if err != nil {
		return nil, errors.Wrap(err, "unable to create scram client")
	}

	return &mechanism{
		hash:   hashf,
		client: client,
	}, nil
}

func (m *mechanism) Name() string {
	return m.hash.name()
}

func (m *mechanism) Start(ctx context.Context) (sasl.StateMachine, []byte, error) {
	convo := m.client.NewConversation()
	str, err := convo.Step("")
	if err != nil {
		return nil, nil, errors.Wrap(err, "unable to start scram conversation")
	}
	return &session{convo: convo}, []byte(str), nil
}

func (s *session) Next(ctx context.Context, challenge []byte) (bool, []byte, error) {
	str, err := s.convo.Step(string(challenge))
	if err != nil {
		return false, nil, errors.Wrap(err, "scram conversation failed")
	}
	return s.convo.Done(), []byte(str), nil
}
