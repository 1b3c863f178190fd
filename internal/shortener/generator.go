package shortener

import (
	"crypto/rand"
	"math/big"
)

// Alphabet 62 个候选字符：数字 + 大写 + 小写
const Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// DefaultLength 默认别名长度
const DefaultLength = 6

// Generator 生成固定长度的随机别名
// 不负责唯一性检查，冲突由仓储层处理
type Generator struct {
	length int
}

func NewGenerator(length int) *Generator {
	if length <= 0 {
		length = DefaultLength
	}
	return &Generator{length: length}
}

// Generate 返回一个随机别名，每个字符在字母表上均匀分布
func (g *Generator) Generate() string {
	buf := make([]byte, g.length)
	max := big.NewInt(int64(len(Alphabet)))

	for i := 0; i < g.length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand 读系统熵源，失败说明运行环境已不可用
			panic(err)
		}
		buf[i] = Alphabet[n.Int64()]
	}

	return string(buf)
}

// Length 返回生成别名的长度
func (g *Generator) Length() int {
	return g.length
}
