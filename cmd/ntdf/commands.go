package main

import (
	"context"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/arkavo-org/ntdf-go/internal/attest"
	"github.com/arkavo-org/ntdf-go/internal/chain"
	"github.com/arkavo-org/ntdf-go/internal/claims"
	"github.com/arkavo-org/ntdf-go/internal/client"
	"github.com/arkavo-org/ntdf-go/internal/dpop"
	"github.com/arkavo-org/ntdf-go/internal/keystore"
	"github.com/arkavo-org/ntdf-go/internal/ntdf"
)

const signingKeyEntry = "signing-key"

func newKeygenCmd() *cobra.Command {
	var (
		keystorePath string
		kas          bool
		outPath      string
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the request signing key",
		Long: `Generate and persist the ES256 key used to sign request proofs. The
key lives in the key store and is reused by later commands.

With --kas, generate a development key access keypair instead: the
private scalar is written to --out and the compressed public key is
printed as base64 for use with the chain command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if kas {
				priv, err := ntdf.GenerateKeyPair()
				if err != nil {
					return err
				}
				if err := os.WriteFile(outPath, ntdf.MarshalKASKey(priv), 0600); err != nil {
					return fmt.Errorf("write kas key: %w", err)
				}
				fmt.Fprintf(os.Stderr, "ntdf: kas private key written to %s\n", outPath)
				fmt.Println(base64.StdEncoding.EncodeToString(ntdf.CompressPublicKey(priv.PublicKey())))
				return nil
			}

			store, err := openKeystore(keystorePath)
			if err != nil {
				return err
			}
			key, err := loadOrCreateSigningKey(store)
			if err != nil {
				return err
			}
			point := elliptic.MarshalCompressed(elliptic.P256(), key.PublicKey.X, key.PublicKey.Y)
			sum := sha256.Sum256(point)
			fmt.Printf("signing key ready (fingerprint %s)\n", hex.EncodeToString(sum[:8]))
			return nil
		},
	}

	cmd.Flags().StringVar(&keystorePath, "keystore", "", "Key store path (default ~/.ntdf/keys.json)")
	cmd.Flags().BoolVar(&kas, "kas", false, "Generate a development key access keypair instead")
	cmd.Flags().StringVar(&outPath, "out", "kas.key", "Private scalar output path for --kas")

	return cmd
}

func newChainCmd() *cobra.Command {
	var (
		serverURL    string
		kasKey       string
		userID       string
		authLevel    string
		keystorePath string
		outPath      string
	)

	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Build an origin/intermediate chain locally",
		Long: `Build the two client-side links against a key access public key without
contacting an authority. The result can be checked offline with the
validate command, or submitted by other tooling.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := resolveServerURL(cmd, serverURL)
			if err != nil {
				return err
			}
			level := claims.AuthLevel(authLevel)
			if !level.Valid() {
				return fmt.Errorf("unknown auth level %q (expected biometric|password|mfa|webauthn)", authLevel)
			}
			kasPub, err := readCompressedKey(kasKey)
			if err != nil {
				return err
			}
			loc, err := ntdf.NewLocator(server)
			if err != nil {
				return err
			}
			store, err := openKeystore(keystorePath)
			if err != nil {
				return err
			}

			builder := chain.NewBuilder(kasPub, loc, attest.NewLocalProvider(store))
			ac, err := builder.BuildChain(claims.PEClaims{UserID: userID, AuthLevel: level})
			if err != nil {
				return fmt.Errorf("build chain: %w", err)
			}

			if outPath != "" {
				if err := os.WriteFile(outPath, ac.Intermediate, 0600); err != nil {
					return fmt.Errorf("write chain: %w", err)
				}
				fmt.Fprintf(os.Stderr, "ntdf: chain written to %s (%d bytes)\n", outPath, len(ac.Intermediate))
				return nil
			}
			fmt.Println(base64.StdEncoding.EncodeToString(ac.Intermediate))
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Authority URL for the link locator (or set NTDF_SERVER_URL)")
	cmd.Flags().StringVar(&kasKey, "kas-key", "", "Key access public key: base64 compressed point, or a file holding one")
	cmd.Flags().StringVar(&userID, "user", "", "User id for the origin link")
	cmd.Flags().StringVar(&authLevel, "auth-level", "webauthn", "Authentication level: biometric|password|mfa|webauthn")
	cmd.Flags().StringVar(&keystorePath, "keystore", "", "Key store path (default ~/.ntdf/keys.json)")
	cmd.Flags().StringVar(&outPath, "out", "", "Write the raw chain to this file instead of stdout")
	cmd.MarkFlagRequired("kas-key")
	cmd.MarkFlagRequired("user")

	return cmd
}

func newProofCmd() *cobra.Command {
	var (
		keystorePath   string
		credentialPath string
	)

	cmd := &cobra.Command{
		Use:   "proof <method> <url>",
		Short: "Emit a standalone possession proof for a method and URL",
		Long: `Sign a one-time proof bound to the given method and URL with the
persisted signing key and print it. With --credential the proof also
binds the terminal link, as the call command does.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openKeystore(keystorePath)
			if err != nil {
				return err
			}
			key, err := loadOrCreateSigningKey(store)
			if err != nil {
				return err
			}

			var opts []dpop.SignOption
			if credentialPath != "" {
				terminal, err := readLinkFile(credentialPath)
				if err != nil {
					return err
				}
				opts = append(opts, dpop.WithAccessToken(base64.StdEncoding.EncodeToString(terminal)))
			}

			proof, err := dpop.Sign(key, strings.ToUpper(args[0]), args[1], opts...)
			if err != nil {
				return err
			}
			fmt.Println(proof)
			return nil
		},
	}

	cmd.Flags().StringVar(&keystorePath, "keystore", "", "Key store path (default ~/.ntdf/keys.json)")
	cmd.Flags().StringVar(&credentialPath, "credential", "", "Terminal link (raw or base64) to bind into the proof")

	return cmd
}

func newAuthorizeCmd() *cobra.Command {
	var (
		serverURL    string
		accessToken  string
		userID       string
		authLevel    string
		keystorePath string
		outPath      string
		insecure     bool
		attestFlag   bool
	)

	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Build an authorization chain and obtain a terminal link",
		Long: `Build an origin link from the user claims and wrap it in device claims,
then exchange the chain with the authority for a terminal link. The
terminal link is printed as base64, or written raw with --out.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := resolveServerURL(cmd, serverURL)
			if err != nil {
				return err
			}
			token, err := resolveAccessToken(cmd, accessToken)
			if err != nil {
				return err
			}
			level := claims.AuthLevel(authLevel)
			if !level.Valid() {
				return fmt.Errorf("unknown auth level %q (expected biometric|password|mfa|webauthn)", authLevel)
			}

			store, err := openKeystore(keystorePath)
			if err != nil {
				return err
			}

			var opts []client.Option
			if insecure {
				opts = append(opts, client.WithAllowInsecure())
			}
			if attestFlag {
				opts = append(opts, client.WithAttestationCollector(attest.NewDstackProvider("")))
			}
			cl, err := client.New(server, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}), nil, opts...)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			kasPub, err := cl.KASPublicKey(ctx)
			if err != nil {
				return err
			}
			loc, err := ntdf.NewLocator(cl.BaseURL())
			if err != nil {
				return err
			}

			builder := chain.NewBuilder(kasPub, loc, attest.NewLocalProvider(store))
			ac, err := builder.BuildChain(claims.PEClaims{UserID: userID, AuthLevel: level})
			if err != nil {
				return fmt.Errorf("build chain: %w", err)
			}

			terminal, err := cl.Authorize(ctx, ac.Intermediate)
			if err != nil {
				return err
			}

			if outPath != "" {
				if err := os.WriteFile(outPath, terminal, 0600); err != nil {
					return fmt.Errorf("write terminal link: %w", err)
				}
				fmt.Fprintf(os.Stderr, "ntdf: terminal link written to %s (%d bytes)\n", outPath, len(terminal))
				return nil
			}
			fmt.Println(base64.StdEncoding.EncodeToString(terminal))
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Authority URL (or set NTDF_SERVER_URL)")
	cmd.Flags().StringVar(&accessToken, "token", "", "Subject access token (or set NTDF_ACCESS_TOKEN)")
	cmd.Flags().StringVar(&userID, "user", "", "User id for the origin link")
	cmd.Flags().StringVar(&authLevel, "auth-level", "webauthn", "Authentication level: biometric|password|mfa|webauthn")
	cmd.Flags().StringVar(&keystorePath, "keystore", "", "Key store path (default ~/.ntdf/keys.json)")
	cmd.Flags().StringVar(&outPath, "out", "", "Write the raw terminal link to this file instead of stdout")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Allow plaintext HTTP connection to the authority")
	cmd.Flags().BoolVar(&attestFlag, "attest", false, "Attach a TEE attestation bundle for strict-mode authorities")
	cmd.MarkFlagRequired("user")

	return cmd
}

func newCallCmd() *cobra.Command {
	var (
		serverURL      string
		credentialPath string
		method         string
		keystorePath   string
		insecure       bool
	)

	cmd := &cobra.Command{
		Use:   "call <path>",
		Short: "Call a protected resource with a proof-bound request",
		Long: `Send a request carrying the terminal link credential and a fresh DPoP
proof bound to the exact method and URL. Prints the response body.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := resolveServerURL(cmd, serverURL)
			if err != nil {
				return err
			}
			terminal, err := readLinkFile(credentialPath)
			if err != nil {
				return err
			}

			store, err := openKeystore(keystorePath)
			if err != nil {
				return err
			}
			signingKey, err := loadOrCreateSigningKey(store)
			if err != nil {
				return err
			}

			var opts []client.Option
			if insecure {
				opts = append(opts, client.WithAllowInsecure())
			}
			cl, err := client.New(server, nil, signingKey, opts...)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			resp, err := cl.Do(ctx, strings.ToUpper(method), args[0], terminal)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			fmt.Fprintf(os.Stderr, "ntdf: %s %s -> %s\n", strings.ToUpper(method), args[0], resp.Status)
			var body json.RawMessage
			if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
				out, _ := json.MarshalIndent(body, "", "  ")
				fmt.Println(string(out))
			}
			if resp.StatusCode >= 400 {
				return fmt.Errorf("request rejected with status %d", resp.StatusCode)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Authority URL (or set NTDF_SERVER_URL)")
	cmd.Flags().StringVar(&credentialPath, "credential", "", "Path to the terminal link (raw or base64)")
	cmd.Flags().StringVar(&method, "method", "GET", "HTTP method")
	cmd.Flags().StringVar(&keystorePath, "keystore", "", "Key store path (default ~/.ntdf/keys.json)")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Allow plaintext HTTP connection to the authority")
	cmd.MarkFlagRequired("credential")

	return cmd
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <link-file>",
		Short: "Print the plaintext header of a serialized link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readLinkFile(args[0])
			if err != nil {
				return err
			}
			hdr, payload, err := ntdf.Parse(data)
			if err != nil {
				return err
			}

			fmt.Printf("locator:        %s\n", hdr.Locator.URL())
			fmt.Printf("curve:          P-256 (0x%02x)\n", hdr.Curve)
			fmt.Printf("kas key:        %s\n", hex.EncodeToString(hdr.KASPublicKey))
			fmt.Printf("ephemeral key:  %s\n", hex.EncodeToString(hdr.EphemeralPublicKey))
			fmt.Printf("policy:         %d bytes ciphertext, binding %s\n", len(hdr.PolicyCiphertext), hex.EncodeToString(hdr.Binding))
			fmt.Printf("payload:        %d bytes\n", len(payload))
			fmt.Printf("total:          %d bytes\n", len(data))
			return nil
		},
	}
	return cmd
}

func newValidateCmd() *cobra.Command {
	var (
		keyPath  string
		pairOnly bool
		skew     int
	)

	cmd := &cobra.Command{
		Use:   "validate <link-file>",
		Short: "Decrypt and validate a chain with a key access private key",
		Long: `Open every layer of a serialized chain with the key access private key,
check bindings, freshness, and posture, and print the claims. Use
--pair for a two-link client chain that has no terminal layer yet.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keyData, err := os.ReadFile(keyPath)
			if err != nil {
				return fmt.Errorf("read key file: %w", err)
			}
			key, err := ntdf.ParseKASKey(keyData)
			if err != nil {
				return err
			}
			data, err := readLinkFile(args[0])
			if err != nil {
				return err
			}

			policy := chain.DefaultPolicy()
			policy.Skew = time.Duration(skew) * time.Second
			validator := chain.NewValidator(key, policy)

			var result any
			if pairOnly {
				result, err = validator.ValidatePair(data)
			} else {
				result, err = validator.ValidateChain(data)
			}
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&keyPath, "key", "", "Path to the key access private key (hex scalar)")
	cmd.Flags().BoolVar(&pairOnly, "pair", false, "Validate an origin/intermediate pair without a terminal layer")
	cmd.Flags().IntVar(&skew, "skew", 60, "Accepted claim clock skew in seconds")
	cmd.MarkFlagRequired("key")

	return cmd
}

func openKeystore(path string) (keystore.Store, error) {
	if path == "" {
		var err error
		path, err = keystore.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return keystore.NewFileStore(path), nil
}

// loadOrCreateSigningKey returns the persisted proof-of-possession
// key, minting one on first use.
func loadOrCreateSigningKey(store keystore.Store) (*ecdsa.PrivateKey, error) {
	data, err := store.Get(signingKeyEntry)
	if err == nil {
		return ntdf.ParseSigningKey(data)
	}
	if !errors.Is(err, keystore.ErrNotFound) {
		return nil, fmt.Errorf("load signing key: %w", err)
	}

	key, err := ntdf.GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	pem, err := ntdf.MarshalSigningKey(key)
	if err != nil {
		return nil, err
	}
	if err := store.Set(signingKeyEntry, pem); err != nil {
		return nil, fmt.Errorf("persist signing key: %w", err)
	}
	return key, nil
}

// readCompressedKey decodes a compressed P-256 public key given as a
// base64 string, or as a path to a file holding one.
func readCompressedKey(value string) (*ecdh.PublicKey, error) {
	text := value
	if data, err := os.ReadFile(value); err == nil {
		text = strings.TrimSpace(string(data))
	}
	compressed, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("decode key access public key: %w", err)
	}
	return ntdf.DecompressPublicKey(compressed)
}

// readLinkFile reads a serialized link, accepting either raw bytes or
// a base64 text file.
func readLinkFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read link file: %w", err)
	}
	if decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data))); err == nil {
		return decoded, nil
	}
	return data, nil
}
