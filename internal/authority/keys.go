package authority

import (
	"bytes"
	"crypto/ecdh"
	"errors"
	"fmt"

	"github.com/arkavo-org/ntdf-go/internal/authority/db"
	"github.com/arkavo-org/ntdf-go/internal/logx"
	"github.com/arkavo-org/ntdf-go/internal/ntdf"
)

// KAS is the authority's key access server keypair, loaded for the
// process lifetime.
type KAS struct {
	Key    *ecdh.PrivateKey
	Public []byte // compressed point
}

// LoadOrCreateKAS unseals the stored keypair, generating and sealing a
// fresh one on first boot.
func LoadOrCreateKAS(store *db.Store, masterKey [32]byte) (*KAS, error) {
	rec, err := store.GetKASKey()
	if errors.Is(err, db.ErrNoKASKey) {
		return createKAS(store, masterKey)
	}
	if err != nil {
		return nil, err
	}

	marshaled, err := openKey(masterKey, rec.KeySealed)
	if err != nil {
		return nil, fmt.Errorf("unseal kas key (wrong NTDF_MASTER_KEY?): %w", err)
	}
	key, err := ntdf.ParseKASKey(marshaled)
	if err != nil {
		return nil, fmt.Errorf("parse unsealed kas key: %w", err)
	}

	public := ntdf.CompressPublicKey(key.PublicKey())
	if !bytes.Equal(public, rec.PublicKey) {
		return nil, fmt.Errorf("stored kas public key does not match unsealed private key")
	}
	return &KAS{Key: key, Public: public}, nil
}

func createKAS(store *db.Store, masterKey [32]byte) (*KAS, error) {
	key, err := ntdf.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	sealed, err := sealKey(masterKey, ntdf.MarshalKASKey(key))
	if err != nil {
		return nil, fmt.Errorf("seal kas key: %w", err)
	}

	public := ntdf.CompressPublicKey(key.PublicKey())
	if err := store.PutKASKey(&db.KASKeyRecord{KeySealed: sealed, PublicKey: public}); err != nil {
		return nil, err
	}
	logx.Infof("generated new key access server keypair")
	return &KAS{Key: key, Public: public}, nil
}
