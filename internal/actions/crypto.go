package actions

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"

	"github.com/google/uuid"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
)

// CryptoActions returns all crypto-related actions.
func CryptoActions(opts ...action.Option) []action.Invoker {
	return []action.Invoker{
		newHashAction(opts...),
		newHMACAction(opts...),
		newUUIDAction(opts...),
	}
}

// hashFunc returns a new hash.Hash for the given algorithm name.
func hashFunc(algorithm string) func() hash.Hash {
	switch algorithm {
	case "sha512":
		return sha512.New
	case "sha384":
		return sha512.New384
	case "md5":
		return md5.New
	case "sha1":
		return sha1.New
	default:
		return sha256.New
	}
}

type digestOutput struct {
	Digest    string `json:"digest"`
	Algorithm string `json:"algorithm"`
}

// --- crypto.hash ---

type hashInput struct {
	Data      string `json:"data"`
	Algorithm string `json:"algorithm,omitempty" jsonschema:"enum=sha256,enum=sha384,enum=sha512,enum=sha1,enum=md5,default=sha256"`
}

func newHashAction(opts ...action.Option) *action.Action[hashInput, digestOutput] {
	b := action.New(opts...).
		Name("crypto.hash").
		Describe("Compute a cryptographic hash of the input data").
		Input(schema.For[hashInput]()).
		Output(schema.For[digestOutput]())
	return action.Handler(b, func(_ context.Context, req action.Request[hashInput, action.NoContext]) (digestOutput, error) {
		algorithm := algorithmOrDefault(req.Input.Algorithm)
		h := hashFunc(algorithm)()
		h.Write([]byte(req.Input.Data))
		return digestOutput{Digest: hex.EncodeToString(h.Sum(nil)), Algorithm: algorithm}, nil
	})
}

// --- crypto.hmac ---

type hmacInput struct {
	Data      string `json:"data"`
	Key       string `json:"key" jsonschema:"minLength=1"`
	Algorithm string `json:"algorithm,omitempty" jsonschema:"enum=sha256,enum=sha384,enum=sha512,enum=sha1,enum=md5,default=sha256"`
}

func newHMACAction(opts ...action.Option) *action.Action[hmacInput, digestOutput] {
	b := action.New(opts...).
		Name("crypto.hmac").
		Describe("Compute an HMAC of the input data using the given key").
		Input(schema.For[hmacInput]()).
		Output(schema.For[digestOutput]())
	return action.Handler(b, func(_ context.Context, req action.Request[hmacInput, action.NoContext]) (digestOutput, error) {
		algorithm := algorithmOrDefault(req.Input.Algorithm)
		mac := hmac.New(hashFunc(algorithm), []byte(req.Input.Key))
		mac.Write([]byte(req.Input.Data))
		return digestOutput{Digest: hex.EncodeToString(mac.Sum(nil)), Algorithm: algorithm}, nil
	})
}

// --- crypto.uuid ---

type uuidOutput struct {
	UUID string `json:"uuid"`
}

func newUUIDAction(opts ...action.Option) *action.Action[action.NoInput, uuidOutput] {
	b := action.New(opts...).
		Name("crypto.uuid").
		Describe("Generate a v4 UUID")
	return action.Handler(b, func(context.Context, action.Request[action.NoInput, action.NoContext]) (uuidOutput, error) {
		return uuidOutput{UUID: uuid.NewString()}, nil
	})
}

func algorithmOrDefault(algorithm string) string {
	if algorithm == "" {
		return "sha256"
	}
	return algorithm
}
