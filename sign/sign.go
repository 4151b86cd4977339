// Package sign authenticates gossip frames with Ed25519 signatures.
package sign

import (
	"errors"
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/kyber/v3/sign/eddsa"
	"go.dedis.ch/kyber/v3/util/random"
)

var suite = edwards25519.NewBlakeSHA256Ed25519()

// GenED25519Keys returns a fresh private key and its public key, both in binary form.
func GenED25519Keys() ([]byte, []byte) {
	e := eddsa.NewEdDSA(random.New())
	priv, err := e.MarshalBinary()
	if err != nil {
		panic(err)
	}
	pub, err := e.Public.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return priv, pub
}

// SignEd25519 signs data with a private key produced by GenED25519Keys.
func SignEd25519(privateKey []byte, data []byte) ([]byte, error) {
	e := &eddsa.EdDSA{}
	if err := e.UnmarshalBinary(privateKey); err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	return e.Sign(data)
}

// VerifySignEd25519 reports whether sig is a valid signature of data.
// The error is only set when the public key itself cannot be decoded.
func VerifySignEd25519(publicKey []byte, data []byte, sig []byte) (bool, error) {
	pub, err := decodePublic(publicKey)
	if err != nil {
		return false, err
	}
	if err := eddsa.Verify(pub, data, sig); err != nil {
		return false, nil
	}
	return true, nil
}

// PublicKey derives the public key of a private key.
func PublicKey(privateKey []byte) ([]byte, error) {
	e := &eddsa.EdDSA{}
	if err := e.UnmarshalBinary(privateKey); err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	return e.Public.MarshalBinary()
}

func decodePublic(publicKey []byte) (kyber.Point, error) {
	if len(publicKey) == 0 {
		return nil, errors.New("empty public key")
	}
	pub := suite.Point()
	if err := pub.UnmarshalBinary(publicKey); err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	return pub, nil
}
