// Copyright 2026 TutorGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tutor

import (
	"context"
	"fmt"

	"tutorgate/platform/gateway/llm"
	"tutorgate/platform/shared/logger"
)

// SocraticStrategy answers with questions, never content. It is the
// response to total delegation: the student gets a path back into the
// problem instead of a solution.
type SocraticStrategy struct {
	client *llm.Client
	log    *logger.Logger
}

func (s *SocraticStrategy) Mode() StrategyMode { return ModeSocratic }
func (s *SocraticStrategy) Intent() string     { return IntentDecomposition }

func (s *SocraticStrategy) Generate(ctx context.Context, c Context) (*Intervention, error) {
	system := systemPromptHeader(c) +
		" Estrategia socrática: responde únicamente con preguntas que lleven al estudiante a " +
		"descomponer el problema y formular su propio plan. No des definiciones ni pasos."
	return generateWithFallback(ctx, s.client, s.log, c, system, func() *Intervention {
		questions := []string{
			fmt.Sprintf("¿Qué entiendes hasta ahora sobre %s?", topicOrDefault(c)),
			"¿En qué subproblemas podrías dividir la tarea?",
			"¿Cuál sería el primer paso que intentarías por tu cuenta?",
		}
		return &Intervention{
			Mode:              ModeSocratic,
			HelpLevel:         c.HelpLevel,
			PedagogicalIntent: IntentDecomposition,
			Message: "Antes de avanzar, pensemos juntos. " +
				questions[0] + " " + questions[1] + " " + questions[2],
			RequiresStudentResponse: true,
			Questions:               questions,
			RequiresJustification:   true,
			Metadata:                Metadata{ProvidesCode: false},
		}
	})
}

// ExplicativeStrategy explains concepts without touching the student's
// concrete task. Conceptual questions land here.
type ExplicativeStrategy struct {
	client *llm.Client
	log    *logger.Logger
}

func (s *ExplicativeStrategy) Mode() StrategyMode { return ModeExplicative }
func (s *ExplicativeStrategy) Intent() string     { return IntentUnderstanding }

func (s *ExplicativeStrategy) Generate(ctx context.Context, c Context) (*Intervention, error) {
	system := systemPromptHeader(c) +
		" Estrategia explicativa: explica el concepto preguntado con claridad y un ejemplo " +
		"abstracto, sin resolver la tarea concreta del estudiante. Cierra con una pregunta " +
		"que compruebe comprensión."
	return generateWithFallback(ctx, s.client, s.log, c, system, func() *Intervention {
		return &Intervention{
			Mode:              ModeExplicative,
			HelpLevel:         c.HelpLevel,
			PedagogicalIntent: IntentUnderstanding,
			Message: fmt.Sprintf(
				"Buena pregunta conceptual. Para entender %s conviene separar qué problema "+
					"resuelve, qué operaciones ofrece y qué coste tienen. Piensa primero en el "+
					"comportamiento que esperas y luego en cómo lo representarías. ¿Qué parte "+
					"del concepto te resulta menos clara: la idea, las operaciones o el coste?",
				topicOrDefault(c)),
			RequiresStudentResponse: true,
			Metadata:                Metadata{ProvidesCode: false},
		}
	})
}

// guidedHintTable is the level-indexed template set for the guided
// strategy. Levels 1..4 move from pure questions to pseudocode-shaped
// structure; none contains executable code.
var guidedHintTable = map[int]Hint{
	1: {Level: 1, Type: HintQuestion,
		Content: "¿Qué caso más simple del problema sabrías resolver ya? Empieza por ahí."},
	2: {Level: 2, Type: HintConceptual,
		Content: "Identifica los datos que necesitas mantener y qué operación los modifica. El invariante que deben cumplir te dirá qué comprobar en cada paso."},
	3: {Level: 3, Type: HintDecomposition,
		Content: "Divide la solución en tres partes: preparar el estado inicial, procesar cada elemento actualizando el estado, y derivar el resultado final del estado. Resuelve y prueba cada parte por separado."},
	4: {Level: 4, Type: HintPseudocode,
		Content: "Esqueleto en pseudocódigo: inicializar estado; mientras quede entrada: leer elemento, validar, actualizar estado; al terminar, transformar estado en resultado. Rellena cada paso con tu propia lógica."},
}

// GuidedStrategy scaffolds implementation and debugging work with
// graduated hints. The hint level follows the classifier's help level.
type GuidedStrategy struct {
	client *llm.Client
	log    *logger.Logger
}

func (s *GuidedStrategy) Mode() StrategyMode { return ModeGuided }
func (s *GuidedStrategy) Intent() string     { return IntentScaffolding }

func (s *GuidedStrategy) Generate(ctx context.Context, c Context) (*Intervention, error) {
	level := c.HelpLevel.hintIndex()
	hint := guidedHintTable[level]

	system := systemPromptHeader(c) + fmt.Sprintf(
		" Estrategia guiada: da una pista de nivel %d de 4 (1=pregunta, 4=pseudocódigo). "+
			"Una sola pista, ajustada al punto donde está el estudiante; nunca la solución.", level)
	return generateWithFallback(ctx, s.client, s.log, c, system, func() *Intervention {
		return &Intervention{
			Mode:              ModeGuided,
			HelpLevel:         c.HelpLevel,
			PedagogicalIntent: IntentScaffolding,
			Message: fmt.Sprintf("Vamos paso a paso con %s. %s",
				topicOrDefault(c), hint.Content),
			RequiresStudentResponse: true,
			Hints:                   []Hint{hint},
			Metadata:                Metadata{ProvidesCode: false},
		}
	})
}

// MetacognitiveStrategy redirects stuck, frustrated, or reflective
// students toward examining their own process.
type MetacognitiveStrategy struct {
	client *llm.Client
	log    *logger.Logger
}

func (s *MetacognitiveStrategy) Mode() StrategyMode { return ModeMetacognitive }
func (s *MetacognitiveStrategy) Intent() string     { return IntentSelfReflection }

func (s *MetacognitiveStrategy) Generate(ctx context.Context, c Context) (*Intervention, error) {
	system := systemPromptHeader(c) +
		" Estrategia metacognitiva: ayuda al estudiante a examinar su propio proceso. " +
		"Valida la dificultad, y pregunta qué ha intentado, qué esperaba y qué observó. " +
		"No propongas soluciones técnicas."
	return generateWithFallback(ctx, s.client, s.log, c, system, func() *Intervention {
		questions := []string{
			"¿Qué has intentado hasta ahora y qué esperabas que pasara?",
			"¿Qué pasó en realidad, y en qué punto exacto difiere de lo esperado?",
			"Si se lo explicaras a otra persona, ¿dónde empezaría tu explicación?",
		}
		return &Intervention{
			Mode:              ModeMetacognitive,
			HelpLevel:         c.HelpLevel,
			PedagogicalIntent: IntentSelfReflection,
			Message: "Atascarse es parte del proceso, no una señal de que no puedas. " +
				"Hagamos una pausa sobre el código y miremos tu proceso: " +
				questions[0] + " " + questions[1],
			RequiresStudentResponse: true,
			Questions:               questions,
			Metadata:                Metadata{ProvidesCode: false},
		}
	})
}

// ClarificationStrategy fires when the prompt is too ambiguous to classify.
// It never calls the LLM: there is nothing well-formed to send.
type ClarificationStrategy struct{}

func (s *ClarificationStrategy) Mode() StrategyMode { return ModeClarification }
func (s *ClarificationStrategy) Intent() string     { return IntentSpecificity }

func (s *ClarificationStrategy) Generate(ctx context.Context, c Context) (*Intervention, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Intervention{
		Mode:              ModeClarification,
		HelpLevel:         HelpMinimal,
		PedagogicalIntent: IntentSpecificity,
		Message: fmt.Sprintf(
			"Necesito más contexto para ayudarte bien. Tu mensaje (%q) no me deja claro qué "+
				"buscas: ¿es una duda conceptual, estás implementando algo, o algo no funciona? "+
				"Cuéntame qué estás haciendo y qué has intentado.",
			summarizePrompt(c.Prompt, 80)),
		RequiresStudentResponse: true,
		Metadata:                Metadata{ProvidesCode: false},
	}, nil
}
