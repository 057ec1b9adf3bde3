package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Hash 生成密码哈希
func Hash(plain string) (string, error) {
	if plain == "" {
		return "", errors.New("password is empty")
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// Verify 校验密码
func Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// IsHash 是否为合法的bcrypt哈希，用于启动时检查配置
func IsHash(hash string) bool {
	_, err := bcrypt.Cost([]byte(hash))
	return err == nil
}
