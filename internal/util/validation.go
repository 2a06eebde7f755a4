package util

import (
	"counselor_training_backend/internal/model"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// RegisterValidators installs the custom binding tags used by request structs.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterValidation("turnrole", func(fl validator.FieldLevel) bool {
			return model.TurnRole(fl.Field().String()).Valid()
		})
		v.RegisterValidation("userrole", func(fl validator.FieldLevel) bool {
			return model.UserRole(fl.Field().String()).Valid()
		})
	})
}
