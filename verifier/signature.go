package verifier

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"sort"

	"github.com/golang-jwt/jwt/v5"
)

// signingMethods lists every algorithm the engine can be configured to accept.
// Only asymmetric methods appear here: "none" and the HMAC family can never
// be allow-listed.
var signingMethods = map[string]jwt.SigningMethod{
	"RS256": jwt.SigningMethodRS256,
	"RS384": jwt.SigningMethodRS384,
	"RS512": jwt.SigningMethodRS512,
	"PS256": jwt.SigningMethodPS256,
	"PS384": jwt.SigningMethodPS384,
	"PS512": jwt.SigningMethodPS512,
	"ES256": jwt.SigningMethodES256,
	"ES384": jwt.SigningMethodES384,
	"ES512": jwt.SigningMethodES512,
}

// SupportedAlgorithms returns the names accepted in an allow-list, sorted
func SupportedAlgorithms() []string {
	names := make([]string, 0, len(signingMethods))
	for name := range signingMethods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsSupportedAlgorithm reports whether alg may appear in an allow-list
func IsSupportedAlgorithm(alg string) bool {
	_, ok := signingMethods[alg]
	return ok
}

// VerifySignature checks signatureSegment over signingInput, which must be the
// original "header.payload" text of the token. The algorithm must already have
// passed the allow-list.
func VerifySignature(signingInput, signatureSegment, alg string, key *KeyEntry) error {
	method, ok := signingMethods[alg]
	if !ok {
		return newError(KindUnsupportedAlgorithm, fmt.Sprintf("alg %q", alg), nil)
	}
	if key.Algorithm != "" && key.Algorithm != alg {
		return newError(KindUnsupportedAlgorithm,
			fmt.Sprintf("key %q is published for %s, token uses %s", key.KeyID, key.Algorithm, alg), nil)
	}
	if err := checkKeyType(method, key); err != nil {
		return err
	}

	sig, err := base64.RawURLEncoding.DecodeString(signatureSegment)
	if err != nil {
		return newError(KindMalformedToken, "signature is not base64url", err)
	}
	if len(sig) == 0 {
		return newError(KindMalformedToken, "empty signature", nil)
	}

	if err := method.Verify(signingInput, sig, key.PublicKey); err != nil {
		return newError(KindSignatureMismatch, "", err)
	}
	return nil
}

func checkKeyType(method jwt.SigningMethod, key *KeyEntry) error {
	switch m := method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		if _, ok := key.PublicKey.(*rsa.PublicKey); ok {
			return nil
		}
	case *jwt.SigningMethodECDSA:
		if pub, ok := key.PublicKey.(*ecdsa.PublicKey); ok && pub.Curve.Params().BitSize == m.CurveBits {
			return nil
		}
	}
	return newError(KindUnsupportedAlgorithm,
		fmt.Sprintf("key %q (%s) cannot verify %s", key.KeyID, key.KeyType, method.Alg()), nil)
}
