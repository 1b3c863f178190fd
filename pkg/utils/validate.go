package utils

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"unicode"
)

var aliasPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateAlias 校验别名是否合法
func ValidateAlias(alias string) error {
	if alias == "" {
		return fmt.Errorf("error.alias_required")
	}

	if ContainsWhitespace(alias) {
		return fmt.Errorf("error.alias_cannot_contain_spaces")
	}

	if !aliasPattern.MatchString(alias) {
		return fmt.Errorf("error.alias_invalid")
	}

	return nil
}

// ValidateTargetURL 校验目标 URL 的合法性
func ValidateTargetURL(targetURL string) error {
	// 1. 检查目标 URL 是否为空
	if targetURL == "" {
		return fmt.Errorf("error.target_url_required")
	}

	// 2. URL 格式校验
	if _, err := url.ParseRequestURI(targetURL); err != nil {
		return fmt.Errorf("error.target_url_invalid")
	}

	// 3. URL 长度限制，与 long_url 列宽一致
	if len(targetURL) > 768 {
		return fmt.Errorf("error.target_url_max_length")
	}
	return nil
}

// SanitizeAlias 把外部传入的别名归一化为裸别名
// 先 URL 解码，再只保留最后一段路径，抵御 ../ 之类的路径穿越输入
func SanitizeAlias(alias string) string {
	if decoded, err := url.QueryUnescape(alias); err == nil {
		alias = decoded
	}
	alias = path.Base(path.Clean("/" + alias))
	if alias == "/" || alias == "." {
		return ""
	}
	return alias
}

func ContainsWhitespace(s string) bool {
	for _, r := range s {
		if unicode.IsSpace(r) {
			return true
		}
	}
	return false
}
