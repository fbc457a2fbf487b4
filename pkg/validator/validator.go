package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	nubanPattern    = regexp.MustCompile(`^[0-9]{10}$`)
	bankCodePattern = regexp.MustCompile(`^[0-9A-Za-z]{3,10}$`)
)

// Init 注册自定义校验规则到 gin 的 validator
func Init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("nuban", func(fl validator.FieldLevel) bool {
			return nubanPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("bankcode", func(fl validator.FieldLevel) bool {
			return bankCodePattern.MatchString(fl.Field().String())
		})
	}
}

// GetErrorMsg translates validation errors into user-friendly messages
func GetErrorMsg(err error) string {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var errMsgs []string
		for _, e := range validationErrors {
			field := e.Field()
			param := e.Param()

			switch e.Tag() {
			case "required":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 不能为空", field))
			case "min":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 长度至少为 %s", field, param))
			case "max":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 长度不能超过 %s", field, param))
			case "oneof":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 必须是 [%s] 之一", field, param))
			case "nuban":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 必须是 10 位数字账号", field))
			case "bankcode":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 银行代码格式不正确", field))
			default:
				errMsgs = append(errMsgs, fmt.Sprintf("%s 校验失败 (%s)", field, e.Tag()))
			}
		}
		return strings.Join(errMsgs, "; ")
	}
	return "请求参数错误"
}
