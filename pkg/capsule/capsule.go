// Package capsule seals a committed .mv2 file into an encrypted .mv2e
// envelope and restores it byte-identically.
//
// The capsule uses one fixed KDF (Argon2id) and one fixed AEAD
// (AES-256-GCM). The plaintext is split into 1 MiB chunks, each sealed
// independently with a per-chunk nonce derived from a random base nonce,
// so arbitrarily large files stream through a bounded buffer. Output goes
// through an atomic temp-and-rename write: a failed lock or unlock never
// leaves a partial file at the target path.
package capsule

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"

	"github.com/maxgoff/memvid/pkg/vfs"
)

// chunkSize is the plaintext chunk size of the streaming variant.
const chunkSize = 1 << 20

// gcmTagSize is the AES-GCM authentication tag length appended to every
// ciphertext chunk.
const gcmTagSize = 16

// Argon2id parameters. These match the defaults of the reference
// implementation; changing them changes the derived key, so they are
// fixed for the format version.
const (
	argonTime    = 2
	argonMemory  = 19456 // KiB
	argonThreads = 1
	keySize      = 32
)

// deriveKey runs Argon2id over the password and salt. The caller must
// zeroize the returned key on all exit paths.
func deriveKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, keySize)
}

// zeroize clears key material in place.
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// chunkNonce returns the AEAD nonce for the given chunk: the base nonce
// with its trailing 8 bytes overwritten by the big-endian chunk index.
// Only the leading 4 bytes of the base nonce survive into a chunk nonce;
// every lock samples a fresh random salt, so each capsule is sealed under
// its own derived key.
func chunkNonce(base [nonceSize]byte, index uint64) []byte {
	nonce := make([]byte, nonceSize)
	copy(nonce, base[:])
	binary.BigEndian.PutUint64(nonce[nonceSize-8:], index)

	return nonce
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}

// Lock seals the .mv2 file at inPath into a .mv2e capsule at outPath.
//
// The input must begin with the MV2 magic (ErrNotMv2File otherwise). The
// capsule is always written in the streaming variant. Every chunk
// authenticates the encoded header as additional data, so a change to any
// header byte fails decryption. The derived key is zeroized before return.
func Lock(inPath, outPath, password string) error {
	return LockWith(vfs.NewReal(), inPath, outPath, password)
}

// LockWith is [Lock] against an explicit filesystem.
func LockWith(fsys vfs.FS, inPath, outPath, password string) error {
	if err := validateMv2(fsys, inPath); err != nil {
		return err
	}

	info, err := fsys.Stat(inPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", inPath, err)
	}

	var hdr Header

	hdr.Version = mv2eVersion
	hdr.KDF = kdfArgon2id
	hdr.Cipher = cipherAES256GCM
	hdr.OriginalSize = uint64(info.Size())
	hdr.Reserved[0] = variantStreaming

	if _, err := rand.Read(hdr.Salt[:]); err != nil {
		return fmt.Errorf("sampling salt: %w", err)
	}

	if _, err := rand.Read(hdr.Nonce[:]); err != nil {
		return fmt.Errorf("sampling nonce: %w", err)
	}

	key := deriveKey([]byte(password), hdr.Salt[:])
	defer zeroize(key)

	aead, err := newAEAD(key)
	if err != nil {
		return err
	}

	in, err := fsys.Open(inPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", inPath, err)
	}

	defer func() { _ = in.Close() }()

	writer := vfs.NewAtomicWriter(fsys)
	hdrBytes := hdr.Encode()

	return writer.Write(outPath, func(out vfs.File) error {
		if _, err := out.Write(hdrBytes); err != nil {
			return err
		}

		buf := make([]byte, chunkSize)
		lenBuf := make([]byte, 4)

		var chunkIndex uint64

		for {
			n, readErr := io.ReadFull(in, buf)
			if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
				return readErr
			}

			if n > 0 {
				ct := aead.Seal(nil, chunkNonce(hdr.Nonce, chunkIndex), buf[:n], hdrBytes)

				binary.LittleEndian.PutUint32(lenBuf, uint32(len(ct)))

				if _, err := out.Write(lenBuf); err != nil {
					return err
				}

				if _, err := out.Write(ct); err != nil {
					return err
				}

				chunkIndex++
			}

			if readErr != nil {
				return nil
			}
		}
	})
}

// Unlock restores the .mv2 file sealed inside the capsule at inPath to
// outPath. Both on-disk variants are accepted.
//
// A wrong password surfaces as ErrDecryption; a short read inside a
// chunk as ErrTruncated. On any failure no file appears at outPath.
func Unlock(inPath, outPath, password string) error {
	return UnlockWith(vfs.NewReal(), inPath, outPath, password)
}

// UnlockWith is [Unlock] against an explicit filesystem.
func UnlockWith(fsys vfs.FS, inPath, outPath, password string) error {
	in, err := fsys.Open(inPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", inPath, err)
	}

	defer func() { _ = in.Close() }()

	hdrBuf := make([]byte, headerSize)
	if _, err := io.ReadFull(in, hdrBuf); err != nil {
		return fmt.Errorf("%w: reading header: %v", ErrCorruptHeader, err)
	}

	hdr, err := DecodeHeader(hdrBuf)
	if err != nil {
		return err
	}

	key := deriveKey([]byte(password), hdr.Salt[:])
	defer zeroize(key)

	aead, err := newAEAD(key)
	if err != nil {
		return err
	}

	writer := vfs.NewAtomicWriter(fsys)

	return writer.Write(outPath, func(out vfs.File) error {
		if hdr.Streaming() {
			return decryptStreaming(in, out, aead, &hdr)
		}

		return decryptMonolithic(in, out, aead, &hdr)
	})
}

func decryptStreaming(in io.Reader, out io.Writer, aead cipher.AEAD, hdr *Header) error {
	lenBuf := make([]byte, 4)

	var (
		chunkIndex uint64
		total      uint64
	)

	for {
		if _, err := io.ReadFull(in, lenBuf); err != nil {
			if errors.Is(err, io.EOF) {
				if total != hdr.OriginalSize {
					return fmt.Errorf("%w: restored %d bytes, header says %d", ErrTruncated, total, hdr.OriginalSize)
				}

				return nil
			}

			// A partial length prefix is a tear inside the record.
			return ErrTruncated
		}

		chunkLen := binary.LittleEndian.Uint32(lenBuf)
		if chunkLen < gcmTagSize || chunkLen > chunkSize+gcmTagSize {
			return fmt.Errorf("%w: chunk %d length %d out of range", ErrDecryption, chunkIndex, chunkLen)
		}

		ct := make([]byte, chunkLen)
		if _, err := io.ReadFull(in, ct); err != nil {
			return ErrTruncated
		}

		pt, err := aead.Open(nil, chunkNonce(hdr.Nonce, chunkIndex), ct, hdr.Encode())
		if err != nil {
			return fmt.Errorf("%w: chunk %d", ErrDecryption, chunkIndex)
		}

		if _, err := out.Write(pt); err != nil {
			return err
		}

		total += uint64(len(pt))
		chunkIndex++
	}
}

// decryptMonolithic handles the legacy single-ciphertext variant: the
// whole body is one AEAD message sealed with the base nonce.
func decryptMonolithic(in io.Reader, out io.Writer, aead cipher.AEAD, hdr *Header) error {
	ct, err := io.ReadAll(in)
	if err != nil {
		return err
	}

	if len(ct) < gcmTagSize {
		return ErrTruncated
	}

	nonce := make([]byte, nonceSize)
	copy(nonce, hdr.Nonce[:])

	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return ErrDecryption
	}

	if uint64(len(pt)) != hdr.OriginalSize {
		return fmt.Errorf("%w: restored %d bytes, header says %d", ErrTruncated, len(pt), hdr.OriginalSize)
	}

	_, err = out.Write(pt)

	return err
}

// validateMv2 checks the lock input starts with the MV2 magic.
func validateMv2(fsys vfs.FS, path string) error {
	f, err := fsys.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}

	defer func() { _ = f.Close() }()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return fmt.Errorf("%w: %s", ErrNotMv2File, path)
	}

	if string(magic) != "MV2\x00" {
		return fmt.Errorf("%w: %s", ErrNotMv2File, path)
	}

	return nil
}
