package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// 允许的图片MIME类型
var allowedImageMIMEs = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Fingerprint 计算图片字节的内容指纹（SHA-256十六进制），
// 相同图片产生相同指纹，用作训练语料库去重键
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SourceKey 生成匿名化的会话/IP来源指纹，只保留前16位十六进制
func SourceKey(sessionID, clientIP string) string {
	sum := sha256.Sum256([]byte(sessionID + "|" + clientIP))
	return hex.EncodeToString(sum[:])[:16]
}

// IsAllowedImageMIME 检查MIME类型是否在允许范围内
func IsAllowedImageMIME(mimeType string) bool {
	// 去掉诸如 "image/jpeg; charset=binary" 的参数部分
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	return allowedImageMIMEs[strings.ToLower(strings.TrimSpace(mimeType))]
}

// DetectImageMIME 在调用方未声明MIME时从字节内容嗅探
func DetectImageMIME(data []byte) string {
	return http.DetectContentType(data)
}
