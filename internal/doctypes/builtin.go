package doctypes

import "github.com/ribera-group/coordina-cli/internal/model"

// Builtin returns the default type catalog covering the documents
// Spanish coordination platforms routinely request. A YAML types file
// replaces this wholesale when configured.
func Builtin() *Registry {
	r, err := NewRegistry(builtinTypes)
	if err != nil {
		panic(err)
	}
	return r
}

var builtinTypes = []TypeDef{
	{
		ID:    "rnt",
		Name:  "Relación Nominal de Trabajadores",
		Scope: model.ScopeCompany,
		Aliases: []string{
			"RNT", "TC2", "relacion nominal", "relacion nominal trabajadores",
		},
	},
	{
		ID:    "rlc",
		Name:  "Recibo de Liquidación de Cotizaciones",
		Scope: model.ScopeCompany,
		Aliases: []string{
			"RLC", "TC1", "recibo liquidacion cotizaciones", "recibo de liquidacion",
		},
	},
	{
		ID:    "seguro_rc",
		Name:  "Seguro de Responsabilidad Civil",
		Scope: model.ScopeCompany,
		Aliases: []string{
			"seguro RC", "poliza responsabilidad civil", "recibo seguro RC",
			"justificante pago seguro",
		},
	},
	{
		ID:    "cert_seg_social",
		Name:  "Certificado de estar al corriente con la Seguridad Social",
		Scope: model.ScopeCompany,
		Aliases: []string{
			"certificado seguridad social", "corriente seguridad social",
			"certificado corriente pago seguridad social",
		},
	},
	{
		ID:    "cert_aeat",
		Name:  "Certificado de estar al corriente con la AEAT",
		Scope: model.ScopeCompany,
		Aliases: []string{
			"certificado AEAT", "certificado hacienda", "corriente obligaciones tributarias",
		},
	},
	{
		ID:    "ita",
		Name:  "Informe de Trabajadores en Alta",
		Scope: model.ScopeCompany,
		Aliases: []string{
			"ITA", "informe trabajadores alta", "informe plantilla alta",
		},
	},
	{
		ID:    "apto_medico",
		Name:  "Certificado de aptitud médica",
		Scope: model.ScopeWorker,
		Aliases: []string{
			"apto medico", "aptitud medica", "reconocimiento medico",
			"certificado medico laboral",
		},
	},
	{
		ID:    "formacion_prl",
		Name:  "Formación en Prevención de Riesgos Laborales",
		Scope: model.ScopeWorker,
		Aliases: []string{
			"formacion PRL", "formacion prevencion riesgos", "curso PRL",
			"formacion preventiva", "certificado formacion",
		},
	},
	{
		ID:    "entrega_epis",
		Name:  "Registro de entrega de EPIs",
		Scope: model.ScopeWorker,
		Aliases: []string{
			"entrega EPIs", "entrega de EPIs", "registro entrega equipos proteccion",
			"acta entrega epi", "epis",
		},
	},
	{
		ID:    "info_riesgos",
		Name:  "Información de riesgos del puesto",
		Scope: model.ScopeWorker,
		Aliases: []string{
			"informacion riesgos", "informacion de riesgos puesto",
			"registro informacion riesgos",
		},
	},
	{
		ID:    "alta_ss_trabajador",
		Name:  "Alta en la Seguridad Social del trabajador",
		Scope: model.ScopeWorker,
		Aliases: []string{
			"alta seguridad social", "documento alta trabajador", "resolucion alta ss",
		},
	},
}
