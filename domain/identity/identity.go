// Package identity 定义聚合标识：Sequence（递增整数）、Token（不透明字符串）、UUID。
//
// 所有标识都是不可变的值类型，可直接用 == 比较，并可通过 String / Parse 往返。
package identity

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"esroot/codegen/snowflake"
	"esroot/errors"
)

// ID 聚合标识约束
type ID interface {
	comparable
	fmt.Stringer
}

// Parser 将文本形式解析为标识
type Parser[T ID] func(s string) (T, error)

// Sequence 递增整数标识
type Sequence struct {
	value int64
}

// NewSequence 从进程级单调递增生成器获取下一个值
func NewSequence() (Sequence, error) {
	v, err := snowflake.Next()
	if err != nil {
		return Sequence{}, errors.WrapError(err, errors.ErrCodeInternal, "generate sequence id")
	}
	return Sequence{value: v}, nil
}

// SequenceOf 包装已有整数
func SequenceOf(v int64) Sequence {
	return Sequence{value: v}
}

// ParseSequence 解析十进制文本
func ParseSequence(s string) (Sequence, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Sequence{}, invalid("sequence", s, err)
	}
	return Sequence{value: v}, nil
}

func (s Sequence) Int64() int64   { return s.value }
func (s Sequence) String() string { return strconv.FormatInt(s.value, 10) }

// Token 不透明字符串标识
type Token struct {
	value string
}

// NewToken 生成 URL 安全的随机标识（nanoid，21 字符）
func NewToken() (Token, error) {
	v, err := gonanoid.New()
	if err != nil {
		return Token{}, errors.WrapError(err, errors.ErrCodeInternal, "generate token id")
	}
	return Token{value: v}, nil
}

// TokenOf 包装已有字符串（不校验）
func TokenOf(v string) Token {
	return Token{value: v}
}

// ParseToken 原样解析，空串非法
func ParseToken(s string) (Token, error) {
	if s == "" {
		return Token{}, invalid("token", s, nil)
	}
	return Token{value: s}, nil
}

func (t Token) String() string { return t.value }

// UUID 128 位 UUID 标识
type UUID struct {
	value uuid.UUID
}

// NewUUID 生成随机 (v4) UUID
func NewUUID() UUID {
	return UUID{value: uuid.New()}
}

// UUIDOf 包装已有 uuid.UUID
func UUIDOf(v uuid.UUID) UUID {
	return UUID{value: v}
}

// ParseUUID 解析标准带连字符的 36 字符形式
func ParseUUID(s string) (UUID, error) {
	if len(s) != 36 {
		return UUID{}, invalid("uuid", s, nil)
	}
	v, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, invalid("uuid", s, err)
	}
	return UUID{value: v}, nil
}

func (u UUID) UUID() uuid.UUID { return u.value }
func (u UUID) String() string  { return u.value.String() }

func invalid(kind, raw string, cause error) error {
	msg := fmt.Sprintf("invalid %s identifier %q", kind, raw)
	var err errors.IError
	if cause != nil {
		err = errors.NewErrorWithCause(errors.ErrCodeInvalidInput, msg, cause)
	} else {
		err = errors.NewError(errors.ErrCodeInvalidInput, msg)
	}
	return err.WithContext("kind", kind)
}
