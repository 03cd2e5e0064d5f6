package report

import (
	"errors"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// SignatureSuffix 是分离签名文件的后缀
const SignatureSuffix = ".asc"

// LoadSigner 从 ASCII armor 私钥文件中取第一个带私钥的实体，必要时用 passphrase 解密
func LoadSigner(keyPath, passphrase string) (*openpgp.Entity, error) {
	f, err := os.Open(keyPath)
	if err != nil {
		return nil, fmt.Errorf("open signing key: %w", err)
	}
	defer f.Close()

	entities, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	for _, e := range entities {
		if e.PrivateKey == nil {
			continue
		}
		if e.PrivateKey.Encrypted {
			if passphrase == "" {
				return nil, errors.New("signing key is encrypted and no passphrase was given")
			}
			if err := e.DecryptPrivateKeys([]byte(passphrase)); err != nil {
				return nil, fmt.Errorf("decrypt signing key: %w", err)
			}
		}
		return e, nil
	}
	return nil, errors.New("no private key found in " + keyPath)
}

// SignFile 为 path 生成 ASCII armor 格式的分离签名，返回签名文件路径
func SignFile(path string, signer *openpgp.Entity) (string, error) {
	data, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer data.Close()

	sigPath := path + SignatureSuffix
	out, err := os.Create(sigPath)
	if err != nil {
		return "", fmt.Errorf("create signature file: %w", err)
	}
	if err := openpgp.ArmoredDetachSign(out, signer, data, nil); err != nil {
		out.Close()
		os.Remove(sigPath)
		return "", fmt.Errorf("sign report: %w", err)
	}
	return sigPath, out.Close()
}
