package sensor

// DefaultSchema returns the readings the bridge knows how to map.
// Callers may add entries to the returned map.
func DefaultSchema() Schema {
	plain := func(unit string) Units { return Units{Default: unit, Template: ValuePlaceholder} }
	temp := Units{Default: "C", Field: "TempUnit", Template: "°" + ValuePlaceholder}
	pressure := Units{Default: "hPa", Field: "PressureUnit", Template: ValuePlaceholder}

	return Schema{
		// Energy monitor
		"Power":         {Capability: "measure_power.{sensor}", Caption: "Power", Units: plain("W"), Convert: ToFloat},
		"Voltage":       {Capability: "measure_voltage.{sensor}", Caption: "Voltage", Units: plain("V"), Convert: ToFloat},
		"Current":       {Capability: "measure_current.{sensor}", Caption: "Current", Units: plain("A"), Convert: ToFloat},
		"Total":         {Capability: "meter_power.{sensor}", Caption: "Energy total", Units: plain("kWh"), Convert: ToFloat},
		"Today":         {Capability: "meter_power_today.{sensor}", Caption: "Energy today", Units: plain("kWh"), Convert: ToFloat},
		"Factor":        {Capability: "measure_power_factor.{sensor}", Caption: "Power factor", Units: plain(""), Convert: ToFloat},
		"ApparentPower": {Capability: "measure_apparent_power.{sensor}", Caption: "Apparent power", Units: plain("VA"), Convert: ToFloat},
		"ReactivePower": {Capability: "measure_reactive_power.{sensor}", Caption: "Reactive power", Units: plain("VAr"), Convert: ToFloat},

		// Climate
		"Temperature": {Capability: "measure_temperature.{sensor}", Caption: "Temperature", Units: temp, Convert: ToFloat},
		"DewPoint":    {Capability: "measure_dew_point.{sensor}", Caption: "Dew point", Units: temp, Convert: ToFloat},
		"Humidity":    {Capability: "measure_humidity.{sensor}", Caption: "Humidity", Units: plain("%"), Convert: ToFloat},
		"Pressure":    {Capability: "measure_pressure.{sensor}", Caption: "Pressure", Units: pressure, Convert: ToFloat},
		"SeaPressure": {Capability: "measure_sea_pressure.{sensor}", Caption: "Sea level pressure", Units: pressure, Convert: ToFloat},

		// Air quality
		"CO2":   {Capability: "measure_co2.{sensor}", Caption: "CO2", Units: plain("ppm"), Convert: ToFloat},
		"eCO2":  {Capability: "measure_eco2.{sensor}", Caption: "eCO2", Units: plain("ppm"), Convert: ToFloat},
		"TVOC":  {Capability: "measure_tvoc.{sensor}", Caption: "TVOC", Units: plain("ppb"), Convert: ToFloat},
		"PM2.5": {Capability: "measure_pm25.{sensor}", Caption: "PM2.5", Units: plain("µg/m³"), Convert: ToFloat},
		"PM10":  {Capability: "measure_pm10.{sensor}", Caption: "PM10", Units: plain("µg/m³"), Convert: ToFloat},

		// Light
		"Illuminance": {Capability: "measure_luminance.{sensor}", Caption: "Illuminance", Units: plain("lx"), Convert: ToFloat},

		// Zigbee end devices
		"BatteryPercentage": {Capability: "measure_battery.{sensor}", Caption: "Battery", Units: plain("%"), Convert: ToFloat},
		"LinkQuality":       {Capability: "measure_link_quality.{sensor}", Caption: "Link quality", Units: plain(""), Convert: ToFloat},
		"Contact":           {Capability: "alarm_contact.{sensor}", Caption: "Contact", Convert: ToBool},
		"Occupancy":         {Capability: "alarm_motion.{sensor}", Caption: "Occupancy", Convert: ToBool},
		"Water":             {Capability: "alarm_water.{sensor}", Caption: "Water leak", Convert: ToBool},
	}
}
