package main

import (
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"spacemouse"
)

func main() {
	// ModularMain can take multiple APIModel arguments, if your module implements multiple models.
	module.ModularMain(
		resource.APIModel{API: sensor.API, Model: spacemouse.SE3Model},
		resource.APIModel{API: sensor.API, Model: spacemouse.CalibrationModel},
	)
}
